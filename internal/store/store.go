// Package store persists documents, revisions, decisions and rendered
// artifacts in badger.
//
// Key layout:
//
//	doc/<docID>                      Document
//	docrev/<docID>/<version:08d>     revision id
//	rev/<revID>                      Revision
//	dec/<docID>/<decID>              ledger.Decision
//	auto/<revID>/<key>               decision id of an automatic decision
//	art/<revID>/<name>               artifact bytes
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/dgallion1/drawcheck/internal/ledger"
	"github.com/dgallion1/drawcheck/internal/report"
)

var ErrNotFound = errors.New("not found")

// Artifact names.
const (
	ArtifactSource   = "source.pdf"
	ArtifactRegister = "register.txt"
	ArtifactFindings = "findings.json"
)

// PageArtifact is the name of an annotated page image.
func PageArtifact(page int) string { return fmt.Sprintf("page-%03d.png", page) }

type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Revision struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Version    int       `json:"version"`
	FileName   string    `json:"file_name"`
	Size       int64     `json:"size"`
	Author     string    `json:"author,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	Verdict        ledger.Verdict `json:"verdict"`
	VerdictComment string         `json:"verdict_comment,omitempty"`
	VerdictAuthor  string         `json:"verdict_author,omitempty"`
	VerdictRole    ledger.Role    `json:"verdict_role,omitempty"`

	AnalysedAt *time.Time `json:"analysed_at,omitempty"`
	Findings   int        `json:"findings"`
	Error      string     `json:"error,omitempty"`
}

// Store is the badger-backed persistence layer.
type Store struct {
	db     *badger.DB
	log    *slog.Logger
	stop   chan struct{}
	gcDone chan struct{}
	now    func() time.Time
}

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Store, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go runGC(db, cfg.GCInterval, cfg.GCDiscardRatio, log, s.stop, s.gcDone)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.gcDone
	}
	return s.db.Close()
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func docKey(id string) []byte            { return []byte("doc/" + id) }
func revKey(id string) []byte            { return []byte("rev/" + id) }
func docRevKey(doc string, v int) []byte { return []byte(fmt.Sprintf("docrev/%s/%08d", doc, v)) }
func decKey(doc, id string) []byte       { return []byte("dec/" + doc + "/" + id) }
func autoKey(rev, key string) []byte     { return []byte("auto/" + rev + "/" + key) }
func artKey(rev, name string) []byte     { return []byte("art/" + rev + "/" + name) }
func prefix(parts ...string) []byte      { return []byte(strings.Join(parts, "/") + "/") }

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error { return json.Unmarshal(val, v) })
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// scan visits every key under p in key order.
func scan(txn *badger.Txn, p []byte, values bool, fn func(key []byte, item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	opts.PrefetchValues = values
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		if err := fn(item.KeyCopy(nil), item); err != nil {
			return err
		}
	}
	return nil
}

// CreateDocument stores a new document.
func (s *Store) CreateDocument(ctx context.Context, name, author string) (*Document, error) {
	d := &Document{ID: newID(), Name: name, Author: author, CreatedAt: s.now()}
	err := s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, docKey(d.ID), d)
	})
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return d, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	var d Document
	err := s.view(ctx, func(txn *badger.Txn) error { return getJSON(txn, docKey(id), &d) })
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDocuments returns every document, oldest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	var out []Document
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, []byte("doc/"), true, func(_ []byte, item *badger.Item) error {
			var d Document
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &d) }); err != nil {
				return err
			}
			out = append(out, d)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// AddRevision stores the next version of a document together with its source PDF.
func (s *Store) AddRevision(ctx context.Context, docID, fileName, author string, pdf []byte) (*Revision, error) {
	var rev *Revision
	err := s.update(ctx, func(txn *badger.Txn) error {
		var d Document
		if err := getJSON(txn, docKey(docID), &d); err != nil {
			return err
		}
		last := 0
		err := scan(txn, prefix("docrev", docID), false, func(key []byte, _ *badger.Item) error {
			k := string(key)
			if v, err := strconv.Atoi(k[strings.LastIndexByte(k, '/')+1:]); err == nil && v > last {
				last = v
			}
			return nil
		})
		if err != nil {
			return err
		}
		rev = &Revision{
			ID:         newID(),
			DocumentID: docID,
			Version:    last + 1,
			FileName:   fileName,
			Size:       int64(len(pdf)),
			Author:     author,
			CreatedAt:  s.now(),
			Verdict:    ledger.VerdictProcessing,
		}
		if err := setJSON(txn, revKey(rev.ID), rev); err != nil {
			return err
		}
		if err := txn.Set(docRevKey(docID, rev.Version), []byte(rev.ID)); err != nil {
			return err
		}
		return txn.Set(artKey(rev.ID, ArtifactSource), pdf)
	})
	if err != nil {
		return nil, fmt.Errorf("add revision: %w", err)
	}
	return rev, nil
}

func (s *Store) GetRevision(ctx context.Context, id string) (*Revision, error) {
	var r Revision
	err := s.view(ctx, func(txn *badger.Txn) error { return getJSON(txn, revKey(id), &r) })
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRevisions returns a document's revisions, oldest first.
func (s *Store) ListRevisions(ctx context.Context, docID string) ([]Revision, error) {
	var out []Revision
	err := s.view(ctx, func(txn *badger.Txn) error {
		var d Document
		if err := getJSON(txn, docKey(docID), &d); err != nil {
			return err
		}
		return scan(txn, prefix("docrev", docID), true, func(_ []byte, item *badger.Item) error {
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var r Revision
			if err := getJSON(txn, revKey(string(id)), &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

// UpdateRevision applies fn to a stored revision.
func (s *Store) UpdateRevision(ctx context.Context, id string, fn func(*Revision)) (*Revision, error) {
	var r Revision
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, revKey(id), &r); err != nil {
			return err
		}
		fn(&r)
		return setJSON(txn, revKey(id), &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SetVerdict records a revision's verdict. A human "removed" verdict is not
// overwritten by the automatic verdict.
func (s *Store) SetVerdict(ctx context.Context, id string, v ledger.Verdict, comment, author string, role ledger.Role) (*Revision, error) {
	return s.UpdateRevision(ctx, id, func(r *Revision) {
		if role == ledger.RoleSystem && r.Verdict == ledger.VerdictRemoved && r.VerdictRole != ledger.RoleSystem {
			return
		}
		r.Verdict = v
		r.VerdictComment = comment
		r.VerdictAuthor = author
		r.VerdictRole = role
	})
}

func (s *Store) PutArtifact(ctx context.Context, revID, name string, data []byte) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(artKey(revID, name), data)
	})
}

func (s *Store) GetArtifact(ctx context.Context, revID, name string) ([]byte, error) {
	var out []byte
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(artKey(revID, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// ListArtifacts returns the artifact names of a revision, sorted.
func (s *Store) ListArtifacts(ctx context.Context, revID string) ([]string, error) {
	var out []string
	p := prefix("art", revID)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, p, false, func(key []byte, _ *badger.Item) error {
			out = append(out, string(key[len(p):]))
			return nil
		})
	})
	return out, err
}

// AppendDecision stores a human decision.
func (s *Store) AppendDecision(ctx context.Context, d ledger.Decision) (*ledger.Decision, error) {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var r Revision
		if err := getJSON(txn, revKey(d.RevisionID), &r); err != nil {
			return err
		}
		d.ID = newID()
		d.DocumentID = r.DocumentID
		d.Automatic = false
		if d.CreatedAt.IsZero() {
			d.CreatedAt = s.now()
		}
		return setJSON(txn, decKey(d.DocumentID, d.ID), d)
	})
	if err != nil {
		return nil, fmt.Errorf("append decision: %w", err)
	}
	return &d, nil
}

// AppendAutomatic stores automatic decisions, skipping any whose
// (revision, key) already exists. It returns the decisions actually written.
func (s *Store) AppendAutomatic(ctx context.Context, ds []ledger.Decision) ([]ledger.Decision, error) {
	var written []ledger.Decision
	err := s.update(ctx, func(txn *badger.Txn) error {
		written = written[:0]
		for _, d := range ds {
			d.Automatic = true
			d.Author = ledger.SystemAuthor
			d.Role = ledger.RoleSystem
			key := ledger.AutomaticKey(d)
			if key == "" {
				return fmt.Errorf("automatic decision on %s has no occurrence or rule", d.RevisionID)
			}
			d.Key = key
			if _, err := txn.Get(autoKey(d.RevisionID, key)); err == nil {
				continue
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if d.DocumentID == "" {
				var r Revision
				if err := getJSON(txn, revKey(d.RevisionID), &r); err != nil {
					return err
				}
				d.DocumentID = r.DocumentID
			}
			d.ID = newID()
			if d.CreatedAt.IsZero() {
				d.CreatedAt = s.now()
			}
			if err := setJSON(txn, decKey(d.DocumentID, d.ID), d); err != nil {
				return err
			}
			if err := txn.Set(autoKey(d.RevisionID, key), []byte(d.ID)); err != nil {
				return err
			}
			written = append(written, d)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append automatic decisions: %w", err)
	}
	return written, nil
}

// Decisions returns every decision of a document, oldest first.
func (s *Store) Decisions(ctx context.Context, docID string) ([]ledger.Decision, error) {
	var out []ledger.Decision
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, prefix("dec", docID), true, func(_ []byte, item *badger.Item) error {
			var d ledger.Decision
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &d) }); err != nil {
				return err
			}
			out = append(out, d)
			return nil
		})
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// LoadHistory builds the ledger snapshot of a document: revisions oldest
// first with their parsed registers, plus every decision. A revision whose
// register is missing is marked not analysed.
func (s *Store) LoadHistory(ctx context.Context, docID string) (ledger.Snapshot, error) {
	revs, err := s.ListRevisions(ctx, docID)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load revisions: %w", err)
	}
	snap := ledger.Snapshot{DocumentID: docID, Revisions: make([]ledger.Revision, 0, len(revs))}
	for _, r := range revs {
		lr := ledger.Revision{ID: r.ID, Version: r.Version}
		if r.VerdictRole != "" && r.VerdictRole != ledger.RoleSystem {
			lr.Reviewer = r.Verdict
		}
		text, err := s.GetArtifact(ctx, r.ID, ArtifactRegister)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return ledger.Snapshot{}, fmt.Errorf("load register of v%d: %w", r.Version, err)
		default:
			p := report.ParseText(string(text))
			lr.Analysed = true
			lr.Occurrences = p.Occurrences
			lr.Order = p.Order
			lr.RuleCounts = p.RuleCounts
			lr.Total = p.Total
		}
		snap.Revisions = append(snap.Revisions, lr)
	}
	snap.Decisions, err = s.Decisions(ctx, docID)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load decisions: %w", err)
	}
	return snap, nil
}

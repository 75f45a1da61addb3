package judge

import (
	"fmt"
	"strings"
)

const SystemPrompt = `Ты эксперт по ГОСТ. Сравни эталонный и проверяемый чертеж по указанному правилу. Верни JSON строго по схеме: {"ok": true/false, "comment": "короткий комментарий"}. Комментарий должен быть очень сжатым (не более 25 слов).`

const CompareSystemPrompt = `Ты эксперт по сравнению технических чертежей.`

const ComparePrompt = `Сравни два чертежа и определи, насколько они визуально похожи. Верни результат в формате JSON с полями: similar (true/false) и confidence (0-1). Расположение тоже влияет: если чертёж повёрнут или немного отличается форма, то false.`

// BuildRulePrompt creates the user text for one rule check. The reference
// image, when present, is sent before the candidate.
func BuildRulePrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Правило %s.\n", req.Rule))
	sb.WriteString(strings.TrimSpace(req.Prompt))
	if req.Reference != nil {
		sb.WriteString("\nПервое изображение эталонное, второе проверяемое.")
	}
	sb.WriteString("\nОтветь только JSON-объектом.")
	return sb.String()
}

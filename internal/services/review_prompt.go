package services

import (
	"fmt"
	"strings"
)

var tasteInstructions = map[Taste]string{
	TasteFriendly:  "親しみやすく、話し言葉を交えた自然な口調（〜でした！など）",
	TastePolite:    "丁寧で誠実な、しっかりした敬語",
	TasteEnergetic: "元気でポジティブな、ワクワク感が伝わる口調",
	TasteEmotional: "心温まる、感動が伝わる表現",
	TasteMinimal:   "装飾を省き、短く端的に良さを伝える口調",
}

// TasteInstruction describes the voice for t. Unknown tastes fall back to
// friendly; random lets the model choose among the five voices.
func TasteInstruction(t Taste) string {
	if t == TasteRandom {
		return "次の5つのテイストから回答内容に最も合うものを1つ選び、その口調で書いてください：[親しみやすい, 丁寧, 元気, 感動的, シンプル]"
	}
	if s, ok := tasteInstructions[t]; ok {
		return s
	}
	return tasteInstructions[TasteFriendly]
}

// AnswerContext lists answered questions in survey order, one per line.
// Unanswered questions are skipped.
func AnswerContext(questions []SurveyQuestion, answers Answers) string {
	lines := make([]string, 0, len(questions))
	for _, q := range questions {
		a, ok := answers[q.ID]
		if !ok || a.String() == "" {
			continue
		}
		suffix := ""
		if q.Kind == KindRating {
			suffix = "点"
		}
		lines = append(lines, fmt.Sprintf("質問: %s / 回答: %s%s", q.Text, a.String(), suffix))
	}
	return strings.Join(lines, "\n")
}

// BuildReviewPrompt renders the instruction sent to the language model.
func BuildReviewPrompt(req ReviewRequest) string {
	length := int(req.Settings.AIReviewLength)
	if length <= 0 {
		length = defaultReviewLength
	}
	var b strings.Builder
	b.WriteString("あなたは一般の利用者です。以下のアンケート回答をもとに、Googleマップに投稿する口コミを書いてください。\n\n")
	b.WriteString("【条件】\n")
	fmt.Fprintf(&b, "・口調: %s\n", TasteInstruction(req.Settings.AIReviewTaste))
	fmt.Fprintf(&b, "・文字数の目安: %d文字程度\n", length)
	b.WriteString("・アンケートで触れられている具体的な点を必ず盛り込み、敬語で書いてください。\n")
	b.WriteString("・定型的な言い回しを避け、人間味のある文章にしてください。\n\n")
	b.WriteString("【アンケート回答】\n")
	b.WriteString(AnswerContext(req.Questions, req.Answers))
	b.WriteString("\n\n【出力】\n・口コミ本文だけを出力し、「」などの記号は付けないでください。\n")
	return b.String()
}

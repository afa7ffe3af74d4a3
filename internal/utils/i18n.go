package utils

// Server-side strings only; the survey UI carries its own copy.

var translations = map[string]map[string]string{
	"ja": {
		"health.ok":          "正常",
		"error.invalid":      "入力内容を確認してください",
		"error.not_found":    "見つかりませんでした",
		"error.conflict":     "設定が他の管理者によって更新されました。再読み込みしてください",
		"error.unauthorized": "認証が必要です",
		"error.unavailable":  "一時的に保存できませんでした。もう一度お試しください",
		"error.bad_gateway":  "文章の生成に失敗しました。もう一度お試しください",
		"error.internal":     "サーバーエラーが発生しました",
		"generate.disabled":  "AIによる文章生成は現在利用できません",
	},
	"en": {
		"health.ok":          "ok",
		"error.invalid":      "please check your input",
		"error.not_found":    "not found",
		"error.conflict":     "settings were changed by someone else, reload and try again",
		"error.unauthorized": "authentication required",
		"error.unavailable":  "could not save right now, please retry",
		"error.bad_gateway":  "review generation failed, please retry",
		"error.internal":     "internal server error",
		"generate.disabled":  "AI review generation is not available",
	},
}

// T returns the translated string for key in locale; falls back to Japanese,
// then to the key itself.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := translations["ja"][key]; ok {
		return v
	}
	return key
}

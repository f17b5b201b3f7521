package tui

// Supported locales: "en" (default) and "zh".

var currentLocale = "en"

// SetLocale changes the active locale.
func SetLocale(locale string) {
	if _, ok := locales[locale]; ok {
		currentLocale = locale
	}
}

// CurrentLocale returns the active locale code.
func CurrentLocale() string {
	return currentLocale
}

// ToggleLocale switches between en and zh.
func ToggleLocale() {
	if currentLocale == "zh" {
		currentLocale = "en"
	} else {
		currentLocale = "zh"
	}
}

// T returns the translated string for key, falling back to English and then to key.
func T(key string) string {
	if m, ok := locales[currentLocale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := enStrings[key]; ok {
		return v
	}
	return key
}

var locales = map[string]map[string]string{
	"zh": zhStrings,
	"en": enStrings,
}

var enStrings = map[string]string{
	"title":             "Money Moves",
	"subtitle":          "Sign in with your Google account to continue.",
	"signed_out":        "You are signed out.",
	"waiting":           "Waiting for sign-in in your browser…",
	"waiting_hint":      "If the browser did not open, visit:",
	"starting":          "Starting sign-in…",
	"failed":            "Sign-in failed",
	"signed_in":         "Signed in",
	"unverified":        "unverified: the identity provider profile could not be exchanged for a session credential",
	"mock":              "development identity",
	"label_name":        "Name",
	"label_email":       "Email",
	"label_uid":         "User ID",
	"label_source":      "Signed in via",
	"label_session":     "Session",
	"copied":            "Login URL copied to clipboard.",
	"copy_failed":       "Could not copy to clipboard: %s",
	"pasted":            "Callback URL submitted.",
	"paste_failed":      "Could not use the clipboard contents: %s",
	"signed_out_notice": "Signed out. The stored credential was discarded.",
	"help_signed_out":   "enter: sign in • L: language • q: quit",
	"help_waiting":      "c: copy URL • v: paste callback URL • esc: cancel • q: quit",
	"help_failed":       "enter: retry • esc: back • q: quit",
	"help_signed_in":    "l: log out • q: quit",
	"status_right":      "logs below",
}

var zhStrings = map[string]string{
	"title":             "Money Moves",
	"subtitle":          "使用 Google 账号登录以继续。",
	"signed_out":        "当前未登录。",
	"waiting":           "正在等待浏览器中的登录…",
	"waiting_hint":      "如果浏览器没有打开，请访问：",
	"starting":          "正在启动登录…",
	"failed":            "登录失败",
	"signed_in":         "已登录",
	"unverified":        "未验证：无法将身份提供方资料换取会话凭证",
	"mock":              "开发身份",
	"label_name":        "名称",
	"label_email":       "邮箱",
	"label_uid":         "用户 ID",
	"label_source":      "登录方式",
	"label_session":     "会话",
	"copied":            "登录链接已复制到剪贴板。",
	"copy_failed":       "无法复制到剪贴板：%s",
	"pasted":            "已提交回调链接。",
	"paste_failed":      "无法使用剪贴板内容：%s",
	"signed_out_notice": "已退出登录，本地凭证已丢弃。",
	"help_signed_out":   "enter: 登录 • L: 语言 • q: 退出",
	"help_waiting":      "c: 复制链接 • v: 粘贴回调链接 • esc: 取消 • q: 退出",
	"help_failed":       "enter: 重试 • esc: 返回 • q: 退出",
	"help_signed_in":    "l: 退出登录 • q: 退出",
	"status_right":      "日志见下方",
}

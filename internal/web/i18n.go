package web

import (
	"net/http"

	"cbc-screen/internal/common"
	"cbc-screen/internal/panel"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var supported = []language.Tag{language.English, language.Chinese}

var matcher = language.NewMatcher(supported)

type catalog map[string]string

var catalogs = map[string]catalog{
	common.LanguageEnglish: {
		"enter_indicators": "Enter Laboratory Indicators",
		"screen_button":    "Screening",
		"prediction":       "Prediction",
		"probability":      "Probability",
		"history":          "Recent Screenings",
		"history_empty":    "No screenings recorded yet.",
		"history_disabled": "Screening history is not enabled for this deployment.",
		"back":             "Back to form",
		"time":             "Time",
		"label":            "Label",
		"confidence":       "Confidence",
		"model":            "Model",
		"missing_value":    "Please enter a value for %s.",
		"invalid_value":    "%s must be a number.",
		"out_of_range":     "Outside the usual range, please double-check: %s",
		"failed":           "Screening failed: %s",
		"disclaimer":       "For research use. Not a diagnosis.",

		"group." + panel.GroupCBCBasics:    "CBC Basics",
		"group." + panel.GroupPlatelets:    "Platelets",
		"group." + panel.GroupRBCIndices:   "RBC Indices",
		"group." + panel.GroupDiffPercent:  "Differential %",
		"group." + panel.GroupDiffAbsolute: "Differential #",
		"group." + panel.GroupInflammation: "Inflammation Marker",
	},
	common.LanguageChinese: {
		"enter_indicators": "输入实验室指标",
		"screen_button":    "开始筛查",
		"prediction":       "预测结果",
		"probability":      "概率",
		"history":          "最近筛查记录",
		"history_empty":    "暂无筛查记录。",
		"history_disabled": "当前部署未启用筛查记录。",
		"back":             "返回表单",
		"time":             "时间",
		"label":            "结果",
		"confidence":       "置信度",
		"model":            "模型",
		"missing_value":    "请填写 %s。",
		"invalid_value":    "%s 必须是数字。",
		"out_of_range":     "以下指标超出常见范围，请核对：%s",
		"failed":           "筛查失败：%s",
		"disclaimer":       "仅供研究使用，不作为诊断依据。",

		"group." + panel.GroupCBCBasics:    "血常规基础",
		"group." + panel.GroupPlatelets:    "血小板",
		"group." + panel.GroupRBCIndices:   "红细胞指数",
		"group." + panel.GroupDiffPercent:  "白细胞分类 %",
		"group." + panel.GroupDiffAbsolute: "白细胞分类 #",
		"group." + panel.GroupInflammation: "炎症指标",
	},
}

// locale is the resolved language of one request.
type locale struct {
	lang    string
	tag     language.Tag
	printer *message.Printer
}

func newLocale(lang string) locale {
	tag := language.English
	if lang == common.LanguageChinese {
		tag = language.Chinese
	} else {
		lang = common.LanguageEnglish
	}
	return locale{lang: lang, tag: tag, printer: message.NewPrinter(tag)}
}

// T looks a key up in the locale's catalog, falling back to English and then
// to the key itself.
func (l locale) T(key string) string {
	if s, ok := catalogs[l.lang][key]; ok {
		return s
	}
	if s, ok := catalogs[common.LanguageEnglish][key]; ok {
		return s
	}
	return key
}

// Tf formats a catalog entry.
func (l locale) Tf(key string, args ...interface{}) string {
	return l.printer.Sprintf(l.T(key), args...)
}

// resolveLocale picks the page language: an explicit ?lang= wins, then the
// profile language, with Accept-Language consulted only for "auto" profiles.
func resolveLocale(r *http.Request, profileLang string) locale {
	if q := r.URL.Query().Get("lang"); q != "" {
		if tag, err := language.Parse(q); err == nil {
			return newLocale(baseLanguage(tag))
		}
	}
	if profileLang != common.LanguageAuto {
		return newLocale(profileLang)
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		tags, _, err := language.ParseAcceptLanguage(accept)
		if err == nil && len(tags) > 0 {
			tag, _, _ := matcher.Match(tags...)
			return newLocale(baseLanguage(tag))
		}
	}
	return newLocale(common.LanguageEnglish)
}

func baseLanguage(tag language.Tag) string {
	base, _ := tag.Base()
	if base.String() == common.LanguageChinese {
		return common.LanguageChinese
	}
	return common.LanguageEnglish
}

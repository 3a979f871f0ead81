// Package i18n holds the user-facing message catalog. Messages are looked up
// by a locale-free Key so callers can keep an error's kind while its text is
// translated.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

type Key string

const (
	InvalidID       Key = "invalid_id"
	MissingName     Key = "missing_name"
	MissingFields   Key = "missing_fields"
	InvalidTask     Key = "invalid_task"
	NotOwner        Key = "not_owner"
	AlreadyClaimed  Key = "already_claimed"
	NotRegistered   Key = "not_registered"
	NotFound        Key = "not_found"
	MissionComplete Key = "mission_complete"
)

var messages = map[Key]struct{ ar, en string }{
	InvalidID:       {"الرقم التعريفي يجب أن يكون 5 أرقام", "the identifier must be exactly 5 digits"},
	MissingName:     {"الرجاء إدخال الاسم", "please enter your name"},
	MissingFields:   {"بيانات ناقصة", "missing fields"},
	InvalidTask:     {"رقم المهمة %d غير صالح", "task %d does not exist"},
	NotOwner:        {"هذه المهمة لشخص آخر!", "this task belongs to someone else"},
	AlreadyClaimed:  {"هذه المهمة محجوزة مسبقاً", "this task is already claimed"},
	NotRegistered:   {"المستخدم غير مسجل، الرجاء تسجيل الدخول", "unknown user, please log in"},
	NotFound:        {"غير موجود", "not found"},
	MissionComplete: {"اكتملت المهمة! تم زيادة العداد.", "Mission complete! The counter was increased."},
}

var (
	cat       = catalog.NewBuilder(catalog.Fallback(language.Arabic))
	supported = []language.Tag{language.Arabic, language.English}
	matcher   = language.NewMatcher(supported)
)

func init() {
	for key, msg := range messages {
		_ = cat.SetString(language.Arabic, string(key), msg.ar)
		_ = cat.SetString(language.English, string(key), msg.en)
	}
}

// Translator renders catalog messages for one locale.
type Translator struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a Translator for locale, falling back to Arabic for
// unsupported or malformed locales.
func New(locale string) Translator {
	tag := language.Arabic
	if parsed, err := language.Parse(locale); err == nil {
		_, idx, conf := matcher.Match(parsed)
		if conf != language.No {
			tag = supported[idx]
		}
	}
	return Translator{tag: tag, printer: message.NewPrinter(tag, message.Catalog(cat))}
}

func (t Translator) Locale() string {
	return t.tag.String()
}

// Text renders key with optional format args.
func (t Translator) Text(key Key, args ...any) string {
	if t.printer == nil {
		t = New("")
	}
	return t.printer.Sprintf(string(key), args...)
}

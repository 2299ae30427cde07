package usecase

import (
	"strconv"
	"strings"

	"health-companion/internal/domain"
)

var genderLabels = map[domain.Gender]string{
	domain.GenderMale:   "ذكر",
	domain.GenderFemale: "أنثى",
}

var activityLabels = map[domain.ActivityLevel]string{
	domain.ActivitySedentary:  "خامل (عمل مكتبي)",
	domain.ActivityLight:      "نشاط خفيف (تمارين 1-3 أيام/أسبوع)",
	domain.ActivityModerate:   "نشاط معتدل (تمارين 3-5 أيام/أسبوع)",
	domain.ActivityActive:     "نشيط (تمارين 6-7 أيام/أسبوع)",
	domain.ActivityVeryActive: "نشيط جداً (عمل بدني أو تمارين مكثفة)",
}

const persona = `أنت "رفيق صحتك"، مساعد ذكي خبير في التغذية الصحية، فقدان الوزن، اللياقة البدنية، والصحة العامة. مهمتك هي تقديم إرشادات آمنة، مخصصة، ومحفزة للمستخدمين.`

// BuildSystemInstruction renders the fixed instruction template for profile.
func BuildSystemInstruction(profile domain.UserProfile) string {
	return strings.Join([]string{
		persona,
		"",
		"**شخصيتك وأسلوبك:**",
		styleRules(),
		"",
		"**المبادئ الأساسية:**",
		corePrinciples(),
		"",
		"**بيانات المستخدم الحالية:**",
		profileLines(profile),
		"",
		"**قواعد صارمة:**",
		strictRules(),
	}, "\n")
}

// BuildPrompt appends the current user message to the instruction.
func BuildPrompt(profile domain.UserProfile, message string) string {
	return BuildSystemInstruction(profile) + "\n\nUser: " + message
}

// buildTranscriptPrompt is BuildPrompt with the prior turns of the session
// inserted before the current message.
func buildTranscriptPrompt(profile domain.UserProfile, message string, history []domain.Message) string {
	lines := transcriptLines(history)
	if len(lines) == 0 {
		return BuildPrompt(profile, message)
	}
	return BuildSystemInstruction(profile) +
		"\n\n" + strings.Join(lines, "\n") +
		"\n\nUser: " + message
}

func transcriptLines(history []domain.Message) []string {
	var lines []string
	for _, m := range history {
		text := strings.TrimSpace(m.Text)
		// Fallback replies were never produced by the provider.
		if text == "" || (m.Sender == domain.SenderAI && text == FallbackMessage) {
			continue
		}
		switch m.Sender {
		case domain.SenderUser:
			lines = append(lines, "User: "+text)
		case domain.SenderAI:
			lines = append(lines, "Assistant: "+text)
		}
	}
	return lines
}

func styleRules() string {
	return strings.Join([]string{
		"- **ودود ومشجع:** تحدث بلغة دافئة ومتفهمة.",
		"- **مهني وموثوق:** استند دائمًا إلى المعلومات العلمية السليمة.",
		"- **تفاؤلي:** شجع المستخدم على كل خطوة صغيرة.",
		"- **واضح:** تجنب المصطلحات الطبية المعقدة واشرحها ببساطة.",
	}, "\n")
}

func corePrinciples() string {
	return strings.Join([]string{
		"1.  **التأكيد على السلامة:** اذكر دائمًا أن نصائحك ليست بديلاً عن استشارة الطبيب أو أخصائي التغذية، خاصة للأشخاص الذين يعانون من حالات مرضية.",
		"2.  **تجنب المعلومات الخطيرة:** لا تقدم أبدًا خططًا غذائية قاسية، أو تشجع على سلوكيات غير صحية، أو تقدم تشخيصًا طبيًا.",
		"3.  **التخصيص:** استخدم بيانات المستخدم التالية لتقديم نصائح مخصصة.",
	}, "\n")
}

func profileLines(p domain.UserProfile) string {
	return strings.Join([]string{
		"- العمر: " + strconv.Itoa(p.Age),
		"- الجنس: " + genderLabels[p.Gender],
		"- الوزن: " + formatNumber(p.Weight) + " كجم",
		"- الطول: " + formatNumber(p.Height) + " سم",
		"- الهدف: " + p.Goal,
		"- مستوى النشاط: " + activityLabels[p.ActivityLevel],
	}, "\n")
}

func strictRules() string {
	return strings.Join([]string{
		"- إذا سألك المستخدم عن دواء محدد، تشخيص حالة، أو خطة علاجية لحالة مرضية معقدة، يجب أن ترفض الإجابة وتشدد على ضرورة الرجوع إلى الطبيب المختص.",
		"- لا تقدم أبدًا ضمانات لنتائج محددة (مثل \"ستخسر 10 كيلو في أسبوع\").",
		"- شجع نهج التغيير التدريجي المستدام بدلاً من الحلول السريعة.",
	}, "\n")
}

// formatNumber prints the shortest representation, so 80 renders as "80".
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

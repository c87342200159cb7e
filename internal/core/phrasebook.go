package core

import "fmt"

const (
	LanguageChinese = "zh"
	LanguageEnglish = "en"
)

// Phrasebook renders the spoken announcement for a payment in one language.
type Phrasebook struct {
	Language string
	names    map[PaymentSource]string
	template string
}

var phrasebooks = map[string]Phrasebook{
	LanguageChinese: {
		Language: LanguageChinese,
		names:    map[PaymentSource]string{SourceAlipay: "支付宝", SourceWeChat: "微信"},
		template: "收到%s付款%s元",
	},
	LanguageEnglish: {
		Language: LanguageEnglish,
		names:    map[PaymentSource]string{SourceAlipay: "Alipay", SourceWeChat: "WeChat"},
		template: "received %s payment %s yuan",
	},
}

// PhrasebookFor returns the phrasebook for lang, falling back to Chinese.
func PhrasebookFor(lang string) Phrasebook {
	if pb, ok := phrasebooks[lang]; ok {
		return pb
	}
	return phrasebooks[LanguageChinese]
}

// DisplayName is the spoken name of the payment source.
func (p Phrasebook) DisplayName(source PaymentSource) string {
	if name, ok := p.names[source]; ok {
		return name
	}
	return source.String()
}

// Utterance formats the announcement; amount is spoken verbatim.
func (p Phrasebook) Utterance(source PaymentSource, amount string) string {
	return fmt.Sprintf(p.template, p.DisplayName(source), amount)
}

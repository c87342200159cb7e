package core

import (
	"errors"
	"strings"
)

const (
	// KindNotification is the only event kind the pipeline inspects.
	KindNotification = "notification"

	// DefaultAlipaySourceID and DefaultWeChatSourceID are the package names
	// the host reports for the two payment apps.
	DefaultAlipaySourceID = "com.eg.android.AlipayGphone"
	DefaultWeChatSourceID = "com.tencent.mm"
)

const (
	SourceUnknown PaymentSource = iota
	SourceAlipay
	SourceWeChat
)

type (
	// PaymentSource tags a notification with the payment app that posted it.
	PaymentSource int

	// NotificationEvent is one notification-state change delivered by the host.
	// It is consumed synchronously and never retained.
	NotificationEvent struct {
		SourceID string `json:"source_id"`
		Text     string `json:"text"`
		Kind     string `json:"kind,omitempty"`
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptySourceID   = errors.New("empty source id")
	ErrDuplicateSource = errors.New("payment source ids must be distinct")
)

func (s PaymentSource) String() string {
	switch s {
	case SourceAlipay:
		return "alipay"
	case SourceWeChat:
		return "wechat"
	default:
		return "unknown"
	}
}

// Known reports whether s is one of the configured payment sources.
func (s PaymentSource) Known() bool {
	return s == SourceAlipay || s == SourceWeChat
}

// IsNotification reports whether the event is a notification-state change.
// Events without a kind are treated as notifications.
func (e NotificationEvent) IsNotification() bool {
	return e.Kind == "" || e.Kind == KindNotification
}

// SourceClassifier maps host source ids to payment sources by exact,
// case-sensitive match.
type SourceClassifier struct {
	alipayID string
	wechatID string
}

// NewSourceClassifier validates the two configured ids and returns a classifier.
func NewSourceClassifier(alipayID, wechatID string) (SourceClassifier, error) {
	if strings.TrimSpace(alipayID) == "" || strings.TrimSpace(wechatID) == "" {
		return SourceClassifier{}, ErrEmptySourceID
	}
	if alipayID == wechatID {
		return SourceClassifier{}, ErrDuplicateSource
	}
	return SourceClassifier{alipayID: alipayID, wechatID: wechatID}, nil
}

// DefaultSourceClassifier uses the stock Alipay and WeChat package names.
func DefaultSourceClassifier() SourceClassifier {
	return SourceClassifier{alipayID: DefaultAlipaySourceID, wechatID: DefaultWeChatSourceID}
}

// Classify is total: anything that is not an exact match is SourceUnknown.
func (c SourceClassifier) Classify(sourceID string) PaymentSource {
	switch sourceID {
	case "":
		return SourceUnknown
	case c.alipayID:
		return SourceAlipay
	case c.wechatID:
		return SourceWeChat
	default:
		return SourceUnknown
	}
}

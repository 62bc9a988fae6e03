package errcode

import "fmt"

// Locale selects a message translation.
type Locale string

// Supported locales.
const (
	LocaleEN Locale = "en"
	LocaleZH Locale = "zh"
)

// Locales returns all supported locales.
func Locales() []Locale {
	return []Locale{LocaleEN, LocaleZH}
}

var codeMessages = map[Locale]map[Code]string{
	LocaleEN: {
		InvalidParameter:      "invalid parameter",
		ValidationError:       "validation failed",
		ResourceNotFound:      "resource not found",
		DatabaseError:         "database error",
		DatabaseQueryError:    "database query failed",
		DatabaseTimeout:       "database operation timed out",
		HTTPTimeout:           "HTTP request timed out",
		ExternalServiceError:  "external service error",
		APIRateLimitExceeded:  "API rate limit exceeded",
		LLMCallFailed:         "LLM call failed",
		LLMOutputParsingError: "failed to parse LLM output",
		LLMRetryExhausted:     "LLM retries exhausted",
	},
	LocaleZH: {
		InvalidParameter:      "参数无效",
		ValidationError:       "校验失败",
		ResourceNotFound:      "资源不存在",
		DatabaseError:         "数据库错误",
		DatabaseQueryError:    "数据库查询失败",
		DatabaseTimeout:       "数据库操作超时",
		HTTPTimeout:           "HTTP 请求超时",
		ExternalServiceError:  "外部服务错误",
		APIRateLimitExceeded:  "API 调用超出限流",
		LLMCallFailed:         "大模型调用失败",
		LLMOutputParsingError: "大模型输出解析失败",
		LLMRetryExhausted:     "大模型重试次数耗尽",
	},
}

var keyMessages = map[Locale]map[Key]string{
	LocaleEN: {
		KeyQueueFull:     "queue is full",
		KeyDeliveryError: "delivery failed",
		KeyJoinRequired:  "owner must join before consuming",
		KeyNoQueues:      "no partitions assigned to owner",
	},
	LocaleZH: {
		KeyQueueFull:     "队列已满",
		KeyDeliveryError: "消息投递失败",
		KeyJoinRequired:  "消费者需要先加入队列",
		KeyNoQueues:      "没有分配给该消费者的分区",
	},
}

// Message returns the localized message for a code. Unknown locales fall
// back to English; unknown codes fall back to the code string itself.
func Message(code Code, locale Locale) string {
	table, ok := codeMessages[locale]
	if !ok {
		table = codeMessages[LocaleEN]
	}
	if msg, ok := table[code]; ok {
		return msg
	}
	return string(code)
}

// Text returns the localized message for a message key, with the same
// fallback behavior as [Message].
func Text(key Key, locale Locale) string {
	table, ok := keyMessages[locale]
	if !ok {
		table = keyMessages[LocaleEN]
	}
	if msg, ok := table[key]; ok {
		return msg
	}
	return string(key)
}

// Localize renders e's message in the given locale, appending detail when
// present.
func (e *Error) Localize(locale Locale) string {
	msg := Message(e.Code, locale)
	if e.Detail != "" {
		return msg + ": " + e.Detail
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Validate verifies that every locale table contains every error code and
// every message key. It is called at startup; any gap means a translation
// was forgotten, and the process must not start.
func Validate() error {
	for _, locale := range Locales() {
		codes, ok := codeMessages[locale]
		if !ok {
			return fmt.Errorf("errcode: missing code table for locale %q", locale)
		}
		for _, c := range Codes() {
			if _, ok := codes[c]; !ok {
				return fmt.Errorf("errcode: locale %q missing message for code %q", locale, c)
			}
		}
		keys, ok := keyMessages[locale]
		if !ok {
			return fmt.Errorf("errcode: missing key table for locale %q", locale)
		}
		for _, k := range Keys() {
			if _, ok := keys[k]; !ok {
				return fmt.Errorf("errcode: locale %q missing message for key %q", locale, k)
			}
		}
	}
	return nil
}

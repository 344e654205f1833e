package service

import (
	"StrikeRate/internal/auth"
)

// SignedFields 每个签名请求都携带的字段
type SignedFields struct {
	Actor     string
	Nonce     int64
	Message   string
	Signature string
}

func (s SignedFields) action(a auth.Action, p auth.Params) auth.SignedAction {
	return auth.SignedAction{
		Actor:     s.Actor,
		Action:    a,
		Params:    p,
		Nonce:     s.Nonce,
		Message:   s.Message,
		Signature: s.Signature,
	}
}

// chunk 按 size 切分，size <= 0 时整体作为一批
func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

package repository

import "errors"

// ErrNoRowsAffected 条件更新未命中任何行（状态已被并发修改或前置条件不满足）
var ErrNoRowsAffected = errors.New("conditional update affected no rows")

// lockingDialects 支持 SELECT ... FOR UPDATE 的方言
var lockingDialects = map[string]bool{"postgres": true, "mysql": true}

package conversation

import "errors"

var (
	ErrEmptyCorpus  = errors.New("message template corpus is empty")
	ErrEmptyReplies = errors.New("reply set is empty")
)

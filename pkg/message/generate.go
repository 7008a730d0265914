package message

import (
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/util"
	"github.com/google/uuid"
)

// NewBranch returns an RFC 3261 branch (z9hG4bK prefixed).
func NewBranch() string {
	return sip.GenerateBranch()
}

func NewTag() string {
	return util.RandString(8)
}

func NewCallID(host string) string {
	return uuid.New().String() + "@" + host
}

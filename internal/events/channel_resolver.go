package events

import (
	"fmt"

	"market-booking/internal/domain/event"
)

// ChannelResolver determines which Redis channels to publish to
type ChannelResolver interface {
	ResolveChannels(evt event.Event) []string
}

// TargetChannelResolver publishes to one channel per target: the merchant's
// and the requester's.
type TargetChannelResolver struct{}

func NewTargetChannelResolver() *TargetChannelResolver {
	return &TargetChannelResolver{}
}

func (r *TargetChannelResolver) ResolveChannels(evt event.Event) []string {
	var channels []string
	if evt.Target.MerchantID.Valid {
		channels = append(channels, fmt.Sprintf("channel:merchant:%s", evt.Target.MerchantID.UUID))
	}
	if evt.Target.UserID.Valid {
		channels = append(channels, fmt.Sprintf("channel:user:%s", evt.Target.UserID.UUID))
	}
	return channels
}

// Package mock provides test doubles for Discord interaction handlers.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records interaction responses.
type InteractionResponder struct {
	// Err is returned by InteractionRespond when non-nil.
	Err error

	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
}

// InteractionRespond records resp and returns Err.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m.Err
}

// Responses returns a copy of the recorded responses.
func (m *InteractionResponder) Responses() []*discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.InteractionResponse(nil), m.responses...)
}

// Last returns the most recent response, or nil.
func (m *InteractionResponder) Last() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return nil
	}
	return m.responses[len(m.responses)-1]
}

// LastContent returns the text of the most recent response, or "".
func (m *InteractionResponder) LastContent() string {
	last := m.Last()
	if last == nil || last.Data == nil {
		return ""
	}
	return last.Data.Content
}

// Reset clears the recorded responses.
func (m *InteractionResponder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = nil
}

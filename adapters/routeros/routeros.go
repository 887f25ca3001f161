// Package routeros provides a ports.DeviceDialer over the MikroTik RouterOS API.
package routeros

import (
	"context"
	"sort"

	"github.com/artpar/netbill/ports"
	"github.com/go-routeros/routeros/v3"
	"github.com/rs/zerolog"
)

// Dialer connects to RouterOS devices over the plain API port.
type Dialer struct {
	logger zerolog.Logger
}

// NewDialer creates a RouterOS dialer.
func NewDialer(logger zerolog.Logger) *Dialer {
	return &Dialer{logger: logger.With().Str("component", "routeros").Logger()}
}

type dialResult struct {
	client *routeros.Client
	err    error
}

// Dial connects and logs in. The attempt races ctx; a client that connects
// after ctx is done is closed in the background.
func (d *Dialer) Dial(ctx context.Context, addr, username, password string) (ports.DeviceSession, error) {
	done := make(chan dialResult, 1)
	go func() {
		c, err := routeros.Dial(addr, username, password)
		done <- dialResult{client: c, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return &session{client: res.client}, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.client != nil {
				res.client.Close()
				d.logger.Debug().Str("addr", addr).Msg("closed late connection")
			}
		}()
		return nil, ctx.Err()
	}
}

var _ ports.DeviceDialer = (*Dialer)(nil)

type session struct {
	client *routeros.Client
}

func (s *session) Print(menu string, where map[string]string) ([]map[string]string, error) {
	sentence := append([]string{menu + "/print"}, queryWords(where)...)
	reply, err := s.client.RunArgs(sentence)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]string, 0, len(reply.Re))
	for _, re := range reply.Re {
		rows = append(rows, re.Map)
	}
	return rows, nil
}

func (s *session) Add(menu string, attrs map[string]string) (string, error) {
	sentence := append([]string{menu + "/add"}, attrWords(attrs)...)
	reply, err := s.client.RunArgs(sentence)
	if err != nil {
		return "", err
	}
	if reply.Done != nil {
		return reply.Done.Map["ret"], nil
	}
	return "", nil
}

func (s *session) Set(menu, id string, attrs map[string]string) error {
	sentence := []string{menu + "/set"}
	if id != "" {
		sentence = append(sentence, "=.id="+id)
	}
	sentence = append(sentence, attrWords(attrs)...)
	_, err := s.client.RunArgs(sentence)
	return err
}

func (s *session) Remove(menu, id string) error {
	_, err := s.client.RunArgs([]string{menu + "/remove", "=.id=" + id})
	return err
}

func (s *session) Close() error {
	s.client.Close()
	return nil
}

// queryWords renders where as API query words ("?name=value"), all of
// which must match.
func queryWords(where map[string]string) []string {
	words := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		words = append(words, "?"+k+"="+where[k])
	}
	return words
}

// attrWords renders attrs as API attribute words ("=name=value").
func attrWords(attrs map[string]string) []string {
	words := make([]string, 0, len(attrs))
	for _, k := range sortedKeys(attrs) {
		words = append(words, "="+k+"="+attrs[k])
	}
	return words
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const slackPageSize = 200

// --- Slack API types ---

type slackMessage struct {
	TS         string         `json:"ts"`
	ThreadTS   string         `json:"thread_ts,omitempty"`
	Text       string         `json:"text"`
	User       string         `json:"user,omitempty"`
	ReplyCount int            `json:"reply_count,omitempty"`
	Replies    []slackMessage `json:"replies,omitempty"`
}

type slackResponse struct {
	OK               bool           `json:"ok"`
	Error            string         `json:"error"`
	Messages         []slackMessage `json:"messages"`
	HasMore          bool           `json:"has_more"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// fetchSlack writes the channel's recent history, with threads expanded, to
// messages.json and a readable messages.md. Messages are ordered oldest first.
func (f *Fetcher) fetchSlack(ctx context.Context, s SlackSpec, dest string) error {
	src := s.String()
	if strings.TrimSpace(s.ChannelID) == "" {
		return fetchErr(InvalidSpec, src, "channel_id is required")
	}
	if f.opts.SlackToken == "" {
		return fetchErr(AuthFailure, src, "SLACK_TOKEN is not set")
	}

	messages, err := f.slackMessages(ctx, src, "conversations.history", url.Values{"channel": {s.ChannelID}}, f.opts.SlackMessageLimit)
	if err != nil {
		return err
	}

	for i, msg := range messages {
		// A thread starter carries its own ts as thread_ts.
		if msg.ThreadTS == "" || msg.ThreadTS != msg.TS || msg.ReplyCount == 0 {
			continue
		}
		replies, err := f.slackMessages(ctx, src, "conversations.replies",
			url.Values{"channel": {s.ChannelID}, "ts": {msg.ThreadTS}}, f.opts.SlackMessageLimit)
		if err != nil {
			return err
		}
		kept := replies[:0]
		for _, r := range replies {
			if r.TS != msg.TS {
				kept = append(kept, r)
			}
		}
		sortMessages(kept)
		messages[i].Replies = kept
	}
	sortMessages(messages)

	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return &FetchError{Kind: IOError, Source: src, Err: err}
	}
	if err := writeFile(src, filepath.Join(dest, "messages.json"), append(data, '\n')); err != nil {
		return err
	}
	if err := writeFile(src, filepath.Join(dest, "messages.md"), []byte(renderSlack(s.ChannelID, messages))); err != nil {
		return err
	}

	log.Debug().Str("source", src).Int("messages", len(messages)).Msg("slack channel fetched")
	return nil
}

// slackMessages pages through a cursor-paginated Slack method until limit
// messages are collected or the cursor runs out.
func (f *Fetcher) slackMessages(ctx context.Context, src, method string, params url.Values, limit int) ([]slackMessage, error) {
	var out []slackMessage
	cursor := ""
	for len(out) < limit {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(min(slackPageSize, limit-len(out))))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp slackResponse
		if err := f.slackGet(ctx, src, method, q, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Messages...)

		cursor = resp.ResponseMetadata.NextCursor
		if !resp.HasMore || cursor == "" {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fetcher) slackGet(ctx context.Context, src, method string, q url.Values, v *slackResponse) error {
	token := f.opts.SlackToken
	body, err := f.get(ctx, src, strings.TrimRight(f.opts.SlackAPIURL, "/")+"/"+method+"?"+q.Encode(),
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) })
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fetchErr(NetworkError, src, "decode %s: %v", method, err)
	}
	if !v.OK {
		return fetchErr(slackErrorKind(v.Error), src, "slack %s: %s", method, v.Error)
	}
	return nil
}

func slackErrorKind(code string) FetchErrorKind {
	switch code {
	case "channel_not_found", "thread_not_found", "message_not_found":
		return NotFound
	case "invalid_auth", "not_authed", "token_revoked", "token_expired",
		"account_inactive", "missing_scope", "not_in_channel", "no_permission":
		return AuthFailure
	case "invalid_arguments", "invalid_cursor", "invalid_ts_latest", "invalid_ts_oldest":
		return InvalidSpec
	}
	return NetworkError
}

func sortMessages(msgs []slackMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ti, tj := parseSlackTS(msgs[i].TS), parseSlackTS(msgs[j].TS)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return msgs[i].TS < msgs[j].TS
	})
}

func renderSlack(channel string, msgs []slackMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Slack channel %s\n", channel)
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n## %s %s\n\n%s\n", formatSlackTS(m.TS), slackAuthor(m.User), strings.TrimSpace(m.Text))
		for _, r := range m.Replies {
			fmt.Fprintf(&b, "\n> **%s** (%s): %s\n", slackAuthor(r.User), formatSlackTS(r.TS),
				strings.ReplaceAll(strings.TrimSpace(r.Text), "\n", "\n> "))
		}
	}
	return b.String()
}

func slackAuthor(user string) string {
	if user == "" {
		return "unknown"
	}
	return user
}

func formatSlackTS(ts string) string {
	t := parseSlackTS(ts)
	if t.IsZero() {
		return ts
	}
	return t.UTC().Format(time.RFC3339)
}

// parseSlackTS converts a Slack timestamp string like "1234567890.123456" to time.Time.
func parseSlackTS(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if len(parts) == 2 {
		// Slack microseconds - pad or trim to 6 digits then convert to nanoseconds.
		frac := parts[1]
		for len(frac) < 6 {
			frac += "0"
		}
		if len(frac) > 6 {
			frac = frac[:6]
		}
		us, err := strconv.ParseInt(frac, 10, 64)
		if err == nil {
			nsec = us * 1000
		}
	}
	// Guard against overflow.
	if sec > math.MaxInt64/int64(time.Second) {
		return time.Time{}
	}
	return time.Unix(sec, nsec)
}

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	bridgeerrors "github.com/PentesterFlow/WebviewBridge/internal/errors"
	"github.com/PentesterFlow/WebviewBridge/internal/transport"
)

// Navigate loads targetURL in the session and returns the URL the browser
// host ended up on.
func (c *Client) Navigate(ctx context.Context, sessionID, targetURL string, opts ...CallOption) (string, error) {
	o := applyCallOptions(opts)
	var loaded string

	err := c.execute(ctx, sessionID, CommandNavigate, targetURL, func(ctx context.Context, cl *call) error {
		if targetURL == "" {
			return bridgeerrors.NewInvalidArgumentError(CommandNavigate, "target URL must not be empty")
		}

		budget := c.composer.Compose(Navigation, o.timeout)
		params := url.Values{}
		params.Set("id", sessionID)
		params.Set("url", encodeTarget(targetURL))
		params.Set("timeout", strconv.Itoa(budget.WireSeconds()))

		resp, err := c.send(ctx, cl, EndpointNavigate, params, budget)
		if err != nil {
			return err
		}
		if err := remoteOutcome(resp, CommandNavigate); err != nil {
			return err
		}

		s, ok := resp.String("loadedUrl")
		if !ok {
			return bridgeerrors.NewShapeError(CommandNavigate, "'loadedUrl' is missing or not a string")
		}
		loaded = s
		cl.log.Infof("Navigation finished at %s", loaded)
		return nil
	})
	if err != nil {
		return "", err
	}
	return loaded, nil
}

// ExtractListData waits postNavDelay for client-rendered content to settle,
// then runs the list extraction script in the session.
func (c *Client) ExtractListData(ctx context.Context, sessionID string, postNavDelay time.Duration, opts ...CallOption) ([]ListItem, error) {
	o := applyCallOptions(opts)
	var items []ListItem

	err := c.execute(ctx, sessionID, CommandListExtract, "", func(ctx context.Context, cl *call) error {
		if postNavDelay > 0 {
			cl.log.Infof("Waiting %s before list extraction", postNavDelay)
		}
		if err := wait(ctx, postNavDelay, CommandListExtract); err != nil {
			return err
		}

		budget := c.composer.Compose(ListExtraction, o.timeout)
		params := url.Values{}
		params.Set("id", sessionID)
		params.Set("exec_timeout", strconv.Itoa(budget.WireSeconds()))

		resp, err := c.send(ctx, cl, EndpointListExtract, params, budget)
		if err != nil {
			return err
		}
		if err := remoteOutcome(resp, CommandListExtract); err != nil {
			return err
		}

		raw, ok := resp.Fields["data"]
		if !ok || !isJSON(raw, '[') {
			return bridgeerrors.NewShapeError(CommandListExtract,
				fmt.Sprintf("'data' is not a list (got %s)", jsonKind(raw, ok)))
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return bridgeerrors.NewShapeError(CommandListExtract, fmt.Sprintf("'data' is not a list: %v", err))
		}
		cl.log.Infof("List extraction found %d items", len(items))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []ListItem{}
	}
	return items, nil
}

// ExtractDetails runs the combined detail and price extraction script.
// Both parts must be present objects or the whole call fails.
func (c *Client) ExtractDetails(ctx context.Context, sessionID string, opts ...CallOption) (*DetailResult, error) {
	o := applyCallOptions(opts)
	var result *DetailResult

	err := c.execute(ctx, sessionID, CommandDetailExtract, "", func(ctx context.Context, cl *call) error {
		budget := c.composer.Compose(DetailExtraction, o.timeout)
		params := url.Values{}
		params.Set("id", sessionID)
		params.Set("exec_timeout", strconv.Itoa(budget.WireSeconds()))

		resp, err := c.send(ctx, cl, EndpointDetailExtract, params, budget)
		if err != nil {
			return err
		}
		if err := remoteOutcome(resp, CommandDetailExtract); err != nil {
			return err
		}

		details, err := objectField(resp, "details")
		if err != nil {
			return err
		}
		prices, err := objectField(resp, "prices")
		if err != nil {
			return err
		}

		result = &DetailResult{Details: details, Prices: prices}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Pause blocks for d unless ctx ends first, in which case it returns a
// Cancelled error.
func Pause(ctx context.Context, d time.Duration) error {
	return wait(ctx, d, "pause")
}

// remoteOutcome turns anything but success:true into a RemoteReported error
// carrying the host's message verbatim.
func remoteOutcome(resp *transport.RawResponse, operation string) error {
	if ok, present := resp.Bool("success"); present && ok {
		return nil
	}
	msg, _ := resp.String("error")
	return bridgeerrors.NewRemoteReportedError(operation, msg)
}

func objectField(resp *transport.RawResponse, name string) (Record, error) {
	raw, ok := resp.Fields[name]
	if !ok || !isJSON(raw, '{') {
		return nil, bridgeerrors.NewShapeError(CommandDetailExtract,
			fmt.Sprintf("'%s' is not an object (got %s)", name, jsonKind(raw, ok)))
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, bridgeerrors.NewShapeError(CommandDetailExtract, fmt.Sprintf("'%s' is not an object: %v", name, err))
	}
	return rec, nil
}

// isJSON reports whether raw starts with the given delimiter. A plain
// Unmarshal would accept null for both slices and maps.
func isJSON(raw json.RawMessage, delim byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == delim
}

func jsonKind(raw json.RawMessage, present bool) string {
	if !present {
		return "nothing"
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "nothing"
	}
	switch trimmed[0] {
	case '{':
		return "object"
	case '[':
		return "list"
	case '"':
		return "string"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

// encodeTarget percent-encodes every reserved character, spaces included,
// the way the browser host's decodeURIComponent expects.
func encodeTarget(target string) string {
	return strings.ReplaceAll(url.QueryEscape(target), "+", "%20")
}

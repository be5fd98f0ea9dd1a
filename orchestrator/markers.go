package orchestrator

import (
	"net/url"
	"sort"
	"strconv"

	"github.com/goliatone/go-connect"
)

// History rewrites the current location without adding an entry.
type History interface {
	ReplaceState(url string)
}

// HistoryFunc adapts a function to History.
type HistoryFunc func(url string)

// ReplaceState implements History.
func (f HistoryFunc) ReplaceState(url string) { f(url) }

// MarkerOutcome is one connection marker found on the connection screen URL.
type MarkerOutcome struct {
	PlatformID string
	Param      string
	Success    bool
}

// AppendMarker adds the platform's connection marker to rawURL, replacing
// any marker already present for that platform.
func AppendMarker(rawURL, platformID string, success bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(connect.MarkerParam(platformID), strconv.FormatBool(success))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ConsumeMarkers extracts every marker naming a registered platform from
// rawURL and returns the outcomes plus the URL with those parameters
// removed. Markers with a value that is not a boolean are stripped but
// produce no outcome. Unrelated parameters are kept.
func ConsumeMarkers(rawURL string, registry *connect.Registry) ([]MarkerOutcome, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, rawURL, err
	}

	q := u.Query()
	var outcomes []MarkerOutcome
	stripped := false
	for param := range q {
		desc, ok := registry.ByMarker(param)
		if !ok {
			continue
		}
		value := q.Get(param)
		q.Del(param)
		stripped = true

		success, err := strconv.ParseBool(value)
		if err != nil {
			continue
		}
		outcomes = append(outcomes, MarkerOutcome{
			PlatformID: desc.ID,
			Param:      param,
			Success:    success,
		})
	}

	if !stripped {
		return nil, rawURL, nil
	}

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].PlatformID < outcomes[j].PlatformID
	})
	u.RawQuery = q.Encode()
	return outcomes, u.String(), nil
}

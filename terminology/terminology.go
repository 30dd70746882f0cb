// Package terminology implements the Structured Data Capture scoring
// extension functions, weight() and ordinal(), as registered FHIRPath
// functions. Both resolve a coded answer's score either from an
// extension already present on the coding or, failing that, from a
// configured terminology server — the only place this engine reaches
// outside the process during evaluation.
package terminology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/evercare/fhirpath"
	"github.com/evercare/fhirpath/model"
)

// Client describes how to reach a terminology server for weight()/
// ordinal() lookups. The zero value has no BaseURL and causes every
// network fallback to fail with a DomainError instead of panicking.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func (c Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

type clientKey struct{}

// WithClient installs the terminology server client functions in this
// package will fetch against. Omitting it is fine for documents whose
// codings already carry the score extension inline; any call that needs
// to fall back to a network lookup without one installed fails with a
// DomainError.
func WithClient(ctx context.Context, client Client) context.Context {
	return context.WithValue(ctx, clientKey{}, client)
}

func clientFromContext(ctx context.Context) (Client, bool) {
	client, ok := ctx.Value(clientKey{}).(Client)
	return client, ok
}

// fetchCache is the process-wide HTTP response cache (§5: "HTTP fetch
// cache: process-wide, one hour TTL, keyed by (url, serialized-options)").
// There are no options beyond the URL in this client's lookups, so the
// key is the fully-qualified request URL.
var fetchCache = newTTLCache[string, []byte](time.Hour)

type scoreCacheKey struct {
	modelVersion       string
	questionnaireOrURL string
	terminologyURL     string
	valueSetURL        string
	code               string
	system             string
}

// scoreCache is the process-wide weight()/ordinal() result cache (§5:
// "Score cache for weight(): process-wide, one hour TTL").
var scoreCache = newTTLCache[scoreCacheKey, apd.Decimal](time.Hour)

// Functions returns the weight() and ordinal() FHIRPath functions, ready
// to merge into an evaluation context with fhirpath.WithFunctions.
//
// Both are nullable (empty input yields empty output) and asynchronous:
// evaluating them requires fhirpath.WithAsync(ctx, fhirpath.AsyncEnabled)
// (or AsyncAlways); otherwise they fail with AsyncDisallowedError rather
// than silently blocking on a network call the caller didn't ask for.
func Functions() fhirpath.Functions {
	return fhirpath.Functions{
		"weight":  scoreFunction("weight"),
		"ordinal": scoreFunction("ordinal"),
	}
}

func scoreFunction(name string) fhirpath.Function {
	return func(
		ctx context.Context,
		root fhirpath.Element, target fhirpath.Collection,
		inputOrdered bool,
		parameters []fhirpath.Expression,
		evaluate fhirpath.EvaluateFunc,
	) (fhirpath.Collection, bool, error) {
		if len(parameters) != 0 {
			return nil, false, fmt.Errorf("%s(): expected no parameters", name)
		}
		if len(target) == 0 {
			return nil, true, nil
		}
		if len(target) > 1 {
			return nil, false, &fhirpath.SingletonError{Operation: name + "()", Count: len(target)}
		}
		if !fhirpath.AsyncAllowed(ctx) {
			return nil, false, &fhirpath.AsyncDisallowedError{Function: name}
		}

		node, ok := target[0].(model.ResourceNode)
		if !ok {
			return nil, false, &fhirpath.DomainError{Operation: name + "()", Detail: fmt.Sprintf("expected a coded element, got %T", target[0])}
		}

		score, err := resolveScore(ctx, name, node)
		if pending, ok := asDecimalPending(err); ok {
			return nil, false, &fhirpath.Pending{Resume: func(ctx context.Context) (fhirpath.Collection, bool, error) {
				score, err := pending.resume(ctx)
				if err != nil {
					return nil, false, err
				}
				return fhirpath.Collection{fhirpath.Decimal{Value: score}}, inputOrdered, nil
			}}
		}
		if err != nil {
			return nil, false, err
		}
		return fhirpath.Collection{fhirpath.Decimal{Value: score}}, inputOrdered, nil
	}
}

func resolveScore(ctx context.Context, property string, node model.ResourceNode) (*apd.Decimal, error) {
	scoreConfig := node.Schema.Score
	if scoreConfig == nil {
		return nil, domainErrorf(property, "model carries no SDC score configuration")
	}

	system, code, err := codingOf(node)
	if err != nil {
		return nil, err
	}

	if score, ok := scoreFromExtension(node, scoreConfig, property); ok {
		return score, nil
	}

	if score, ok := scoreFromQuestionnaire(ctx, node, scoreConfig, property, system, code); ok {
		return score, nil
	}

	questionnaireOrURL := ""
	if q, ok := fhirpath.Variable(ctx, "questionnaire"); ok {
		questionnaireOrURL = firstString(q)
	}
	terminologyURL := ""
	if t, ok := fhirpath.Variable(ctx, "terminologies"); ok {
		terminologyURL = firstString(t)
	}
	if terminologyURL == "" {
		client, ok := clientFromContext(ctx)
		if !ok {
			return nil, domainErrorf(property, "no terminology server configured and no inline score extension present")
		}
		terminologyURL = client.BaseURL
	}

	key := scoreCacheKey{
		modelVersion:       node.Schema.Release,
		questionnaireOrURL: questionnaireOrURL,
		terminologyURL:     terminologyURL,
		valueSetURL:        "",
		code:               code,
		system:             system,
	}
	if cached, ok := scoreCache.Get(key); ok {
		return &cached, nil
	}

	score, err := fetchScore(ctx, terminologyURL, scoreConfig, property, system, code)
	if pending, ok := asDecimalPending(err); ok {
		return nil, &decimalPending{resume: func(ctx context.Context) (*apd.Decimal, error) {
			score, err := pending.resume(ctx)
			if err != nil {
				return nil, err
			}
			scoreCache.Set(key, *score)
			return score, nil
		}}
	}
	if err != nil {
		return nil, err
	}
	scoreCache.Set(key, *score)
	return score, nil
}

// scoreFromExtension reads the SDC score straight off the coding's own
// extensions, the fast path that avoids a network round trip entirely
// when the document already carries it (e.g. a pre-expanded ValueSet).
func scoreFromExtension(node model.ResourceNode, scoreConfig *model.ScoreConfig, property string) (*apd.Decimal, bool) {
	valueField := "value" + property
	for _, ext := range node.Children("extension") {
		extNode, ok := ext.(model.ResourceNode)
		if !ok {
			continue
		}
		url := firstString(extNode.Children("url"))
		if !containsString(scoreConfig.ExtensionURI, url) {
			continue
		}
		for _, child := range extNode.Children(valueField) {
			d, ok, err := child.ToDecimal(false)
			if err == nil && ok {
				return d.Value, true
			}
		}
		if scoreConfig.PropertyURI == url {
			for _, child := range extNode.Children("valueDecimal") {
				d, ok, err := child.ToDecimal(false)
				if err == nil && ok {
					return d.Value, true
				}
			}
		}
	}
	return nil, false
}

// scoreFromQuestionnaire looks for the score on the Questionnaire item's
// own answerOption list, for a QuestionnaireResponse answer whose coded
// value matches system/code. This is the SDC-typical case: the score lives
// on the option the respondent picked, not restated on every answer. The
// enclosing item is found by walking node's Parent chain up to the nearest
// ancestor carrying a linkId, then looked up in the questionnaire's linkId
// index (see linkid.go). The index is requested for the address of this
// call's local copy of the questionnaire node, so the weak cache never
// returns an earlier index here: the index is rebuilt on every call.
func scoreFromQuestionnaire(ctx context.Context, node model.ResourceNode, scoreConfig *model.ScoreConfig, property, system, code string) (*apd.Decimal, bool) {
	q, ok := fhirpath.Variable(ctx, "questionnaire")
	if !ok || len(q) == 0 {
		return nil, false
	}
	questionnaire, ok := q[0].(model.ResourceNode)
	if !ok {
		return nil, false
	}

	linkID := enclosingLinkID(node)
	if linkID == "" {
		return nil, false
	}
	item, ok := linkIDIndexFor(&questionnaire)[linkID]
	if !ok {
		return nil, false
	}

	for _, option := range item.Children("answerOption") {
		optionNode, ok := option.(model.ResourceNode)
		if !ok {
			continue
		}
		for _, coding := range optionNode.Children("valueCoding") {
			codingNode, ok := coding.(model.ResourceNode)
			if !ok {
				continue
			}
			optSystem, optCode, err := codingOf(codingNode)
			if err != nil || optCode != code || (system != "" && optSystem != system) {
				continue
			}
			if score, ok := scoreFromExtension(optionNode, scoreConfig, property); ok {
				return score, true
			}
		}
	}
	return nil, false
}

// enclosingLinkID walks up from a coded answer value to the nearest
// ancestor item that declares a linkId.
func enclosingLinkID(node model.ResourceNode) string {
	for current := &node; current != nil; current = current.Parent {
		if linkID := firstString(current.Children("linkId")); linkID != "" {
			return linkID
		}
	}
	return ""
}

func codingOf(node model.ResourceNode) (system, code string, err error) {
	system = firstString(node.Children("system"))
	code = firstString(node.Children("code"))
	if code == "" {
		if s, ok, convErr := node.ToString(false); convErr == nil && ok {
			code = string(s)
		}
	}
	if code == "" {
		return "", "", domainErrorf("weight/ordinal", "element carries no code to score")
	}
	return system, code, nil
}

// fetchScore issues a CodeSystem/$lookup-style request against the
// configured terminology server, asking for the SDC score property by
// its canonical property URI, and parses a simple `{"value": <number>}`
// response shape.
//
// The FHIRPath standard library this engine implements deliberately
// narrows terminology access to this single scoring call (§1 "a
// narrowly scoped terminology lookup"); it does not implement general
// ValueSet/CodeSystem resolution.
func fetchScore(ctx context.Context, baseURL string, scoreConfig *model.ScoreConfig, property, system, code string) (*apd.Decimal, error) {
	if baseURL == "" {
		return nil, domainErrorf(property, "no terminology server configured for score lookup")
	}

	query := url.Values{}
	query.Set("code", code)
	if system != "" {
		query.Set("system", system)
	}
	query.Set("property", scoreConfig.PropertyURI)
	requestURL := baseURL + "/CodeSystem/$lookup?" + query.Encode()

	body, err := fetchWithCache(ctx, requestURL)
	if pending, ok := asBytesPending(err); ok {
		return nil, &decimalPending{resume: func(ctx context.Context) (*apd.Decimal, error) {
			body, err := pending.resume(ctx)
			if err != nil {
				return nil, err
			}
			return parseScore(property, body)
		}}
	}
	if err != nil {
		return nil, err
	}
	return parseScore(property, body)
}

func parseScore(property string, body []byte) (*apd.Decimal, error) {
	var payload struct {
		Value json.Number `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domainErrorf(property, "terminology server returned an unparseable score: %s", err)
	}
	d, _, err := apd.NewFromString(payload.Value.String())
	if err != nil {
		return nil, domainErrorf(property, "terminology server returned a non-numeric score %q", payload.Value)
	}
	return d, nil
}

// decimalPending is fetchScore/resolveScore's suspended state: the
// underlying HTTP fetch hasn't resolved yet, so resume re-enters exactly
// where the chain left off (parse the response, then populate the score
// cache) instead of re-issuing the request.
type decimalPending struct {
	resume func(ctx context.Context) (*apd.Decimal, error)
}

func (p *decimalPending) Error() string {
	return "terminology: score lookup suspended pending an HTTP response"
}

func asDecimalPending(err error) (*decimalPending, bool) {
	var p *decimalPending
	return p, errors.As(err, &p)
}

// bytesPending is fetchWithCache's suspended state: the request is in
// flight on its own goroutine and resume blocks on its result (or on
// cancellation) instead of fetchWithCache's caller blocking up front.
type bytesPending struct {
	resume func(ctx context.Context) ([]byte, error)
}

func (p *bytesPending) Error() string {
	return "terminology: fetch suspended pending an HTTP response"
}

func asBytesPending(err error) (*bytesPending, bool) {
	var p *bytesPending
	return p, errors.As(err, &p)
}

// fetchWithCache issues the request in a background goroutine and
// returns immediately with a *bytesPending rather than blocking the
// calling goroutine on the response: under fhirpath.AsyncEnabled the
// evaluator hands that suspension back to its own caller; under
// AsyncAlways it resolves it inline (see Pending in package fhirpath).
// Either way the result, once it arrives, is cached the same as before.
func fetchWithCache(ctx context.Context, requestURL string) ([]byte, error) {
	if body, ok := fetchCache.Get(requestURL); ok {
		return body, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}

	client, _ := clientFromContext(ctx)
	result := make(chan struct {
		body []byte
		err  error
	}, 1)
	go func() {
		resp, err := client.httpClient().Do(req)
		if err != nil {
			result <- struct {
				body []byte
				err  error
			}{nil, err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err == nil && resp.StatusCode >= 400 {
			err = fmt.Errorf("terminology server returned %s", resp.Status)
		}
		result <- struct {
			body []byte
			err  error
		}{body, err}
	}()
	cancelled := fhirpath.WaitForCancellation(ctx, "terminology fetch")

	return nil, &bytesPending{resume: func(resumeCtx context.Context) ([]byte, error) {
		select {
		case r := <-result:
			if r.err != nil {
				return nil, r.err
			}
			fetchCache.Set(requestURL, r.body)
			return r.body, nil
		case cancelErr := <-cancelled:
			return nil, cancelErr
		case <-resumeCtx.Done():
			return nil, resumeCtx.Err()
		}
	}}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func domainErrorf(function, format string, args ...any) error {
	return &fhirpath.DomainError{Operation: function + "()", Detail: fmt.Sprintf(format, args...)}
}

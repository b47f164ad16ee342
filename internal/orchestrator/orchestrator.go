// Package orchestrator executes a single acquisition attempt end to end:
// plan composition, pacing, navigation, challenge resolution, extraction
// and result persistence.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/veilhq/stealthcrawler/internal/acquire"
	"github.com/veilhq/stealthcrawler/internal/challenge"
	"github.com/veilhq/stealthcrawler/internal/extract"
	"github.com/veilhq/stealthcrawler/internal/hash/sha256"
	"github.com/veilhq/stealthcrawler/internal/metrics"
	"github.com/veilhq/stealthcrawler/internal/netpath"
	"github.com/veilhq/stealthcrawler/internal/pacing"
	"github.com/veilhq/stealthcrawler/internal/session"
	"github.com/veilhq/stealthcrawler/internal/stealth"
)

// Config tunes attempt execution.
type Config struct {
	// AttemptTimeout bounds one attempt regardless of pacing delays.
	AttemptTimeout time.Duration
	// CompletionTopic receives an event per finished job; empty disables
	// publishing.
	CompletionTopic string
	// ArtifactPrefix namespaces raw-content objects in the blob store.
	ArtifactPrefix string
}

func (c Config) withDefaults() Config {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 35 * time.Second
	}
	if c.ArtifactPrefix == "" {
		c.ArtifactPrefix = "raw"
	}
	return c
}

// Attempt identifies the composed identity so the caller can rotate away
// from it on the next try.
type Attempt struct {
	ProfileName string
	PathKey     string
	Level       int
}

// Orchestrator runs attempts. All collaborators are injected; the zero
// value is not usable.
type Orchestrator struct {
	cfg        Config
	composer   *stealth.Composer
	paths      *netpath.Manager
	sessions   *session.Manager
	pace       *pacing.Engine
	waits      *pacing.Executor
	challenges *challenge.Pipeline
	extractor  *extract.Extractor
	navigator  Navigator
	blobs      acquire.BlobStore
	publisher  acquire.Publisher
	hasher     *sha256.Hasher
	logger     *zap.Logger
}

// New wires an Orchestrator. The blob store and publisher may be nil; the
// corresponding steps are then skipped.
func New(
	cfg Config,
	composer *stealth.Composer,
	paths *netpath.Manager,
	sessions *session.Manager,
	pace *pacing.Engine,
	waits *pacing.Executor,
	challenges *challenge.Pipeline,
	extractor *extract.Extractor,
	navigator Navigator,
	blobs acquire.BlobStore,
	publisher acquire.Publisher,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		composer:   composer,
		paths:      paths,
		sessions:   sessions,
		pace:       pace,
		waits:      waits,
		challenges: challenges,
		extractor:  extractor,
		navigator:  navigator,
		blobs:      blobs,
		publisher:  publisher,
		hasher:     sha256.New(),
		logger:     logger,
	}
}

type pathOutcome int

const (
	outcomeFailed pathOutcome = iota
	outcomeSucceeded
	outcomeBlocked
)

// Execute runs one attempt for the job. The returned Attempt names the
// identity used even when the attempt fails, so retries can rotate.
func (o *Orchestrator) Execute(ctx context.Context, job acquire.Job) (*acquire.Result, Attempt, error) {
	start := time.Now()
	plan, err := o.composer.Compose(ctx, job)
	if err != nil {
		return nil, Attempt{Level: plan.Level}, err
	}
	attempt := Attempt{
		ProfileName: plan.Profile.Name,
		PathKey:     plan.Path.Key(),
		Level:       plan.Level,
	}
	metrics.ObservePathSelection(plan.Path.Provider, string(plan.Path.Class))

	outcome := outcomeFailed
	var navLatency time.Duration
	defer func() {
		switch outcome {
		case outcomeSucceeded:
			o.paths.Release(plan.Path, true, navLatency)
		case outcomeBlocked:
			o.paths.Return(plan.Path)
			o.paths.MarkFailed(plan.Path, netpath.ReasonBlocked)
		default:
			o.paths.Release(plan.Path, false, navLatency)
		}
		metrics.ObserveAcquisition(job.URL, outcomeLabel(outcome), plan.Level, time.Since(start))
	}()

	actx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	domain := hostOf(job.URL)
	var state session.State
	if plan.Caps.SessionState {
		state, err = o.sessions.Attach(actx, domain)
		if err != nil {
			return nil, attempt, fmt.Errorf("attach session: %w", err)
		}
	}

	prePlan := o.pace.Plan(plan.Archetype, pacing.Complexity{})
	if err := o.waits.PreNavigate(actx, prePlan); err != nil {
		return nil, attempt, o.classifyTimeout(actx, err)
	}

	req := Request{
		URL:         job.URL,
		UserAgent:   plan.Profile.UserAgent,
		Viewport:    plan.Profile.Viewport,
		DeviceClass: plan.Profile.DeviceClass,
		Locale:      plan.Profile.Locale,
		Timezone:    plan.Profile.Timezone,
		ProxyURL:    plan.Path.ProxyURL,
		Cookies:     state.Cookies,
	}
	resp, err := o.navigator.Navigate(actx, req)
	if err != nil {
		return nil, attempt, o.classifyTimeout(actx, err)
	}
	navLatency = resp.Latency

	resp, blocked, err := o.resolveChallenges(actx, plan, req, resp)
	if err != nil {
		if blocked {
			outcome = outcomeBlocked
		}
		return nil, attempt, err
	}

	content, complexity, err := o.extractor.Extract(resp.Body)
	if err != nil {
		return nil, attempt, acquire.WrapError(acquire.CodeExtractionValidationFailed, "page did not parse", err)
	}

	pacePlan := o.pace.Plan(plan.Archetype, complexity)
	if err := o.waits.Scroll(actx, pacePlan, nil); err != nil {
		return nil, attempt, o.classifyTimeout(actx, err)
	}
	if err := o.waits.Read(actx, pacePlan); err != nil {
		return nil, attempt, o.classifyTimeout(actx, err)
	}
	metrics.ObservePacingDelay(plan.Archetype.Name, prePlan.PreDelay+pacePlan.Total())

	if err := o.extractor.Validate(content); err != nil {
		return nil, attempt, err
	}

	if plan.Caps.SessionState {
		tokens := session.ExtractTokens(resp.Body)
		if err := o.sessions.RecordResponse(actx, domain, resp.Cookies, tokens); err != nil {
			o.logger.Warn("session persist failed", zap.String("domain", domain), zap.Error(err))
		}
	}

	artifactURI := o.storeArtifact(ctx, job, resp.Body)

	result := &acquire.Result{
		URL:        resp.URL,
		Structured: content.AsMap(),
		RawContent: resp.Body,
		Metadata: acquire.ResultMetadata{
			ProfileUsed:  plan.Profile.Name,
			PathUsed:     plan.Path.Key(),
			StealthLevel: plan.Level,
			Stats: map[string]int{
				"headings":    len(content.Headings),
				"links":       len(content.Links),
				"textChars":   len(content.Text),
				"scrollSteps": len(pacePlan.ScrollDelays),
				"pacingMs":    int((prePlan.PreDelay + pacePlan.Total()).Milliseconds()),
			},
			ExtractionSummary: content.Summary(),
			ArtifactURI:       artifactURI,
		},
	}

	o.publishCompletion(ctx, job, result)
	outcome = outcomeSucceeded
	return result, attempt, nil
}

// resolveChallenges inspects the response for anti-bot interference and, at
// levels that allow it, walks the solver chain. A solved challenge triggers
// one re-navigation carrying the clearance token.
func (o *Orchestrator) resolveChallenges(ctx context.Context, plan stealth.Plan, req Request, resp Response) (Response, bool, error) {
	typ, confidence := challenge.Detect(resp.StatusCode, resp.Body)
	if typ == challenge.TypeNone {
		return resp, false, nil
	}
	o.logger.Info("challenge detected",
		zap.String("url", req.URL),
		zap.String("type", string(typ)),
		zap.Float64("confidence", confidence),
	)

	if !plan.Caps.ChallengeResolution {
		metrics.ObserveChallenge(string(typ), "unhandled")
		return resp, true, acquire.NewError(acquire.CodeChallengeUnresolved,
			fmt.Sprintf("challenge %s at stealth level %d", typ, plan.Level))
	}

	record, err := o.challenges.Resolve(ctx, resp.StatusCode, req.URL, resp.Body, plan.Caps.ChallengeBudget)
	if err != nil {
		if errors.Is(err, challenge.ErrRotationRequired) {
			metrics.ObserveChallenge(string(typ), "rotation")
			return resp, true, acquire.WrapError(acquire.CodeNavigationTimeout,
				"rate limited, identity rotation required", err)
		}
		metrics.ObserveChallenge(string(typ), "unresolved")
		return resp, true, err
	}
	metrics.ObserveChallenge(string(typ), "resolved")

	if record.Token != "" {
		req.Cookies = append(req.Cookies, &http.Cookie{Name: "clearance", Value: record.Token, Path: "/"})
	}
	again, err := o.navigator.Navigate(ctx, req)
	if err != nil {
		return resp, false, o.classifyTimeout(ctx, err)
	}
	if typ, _ := challenge.Detect(again.StatusCode, again.Body); typ != challenge.TypeNone {
		return again, true, acquire.NewError(acquire.CodeChallengeUnresolved,
			"challenge persisted after resolution")
	}
	return again, false, nil
}

func (o *Orchestrator) storeArtifact(ctx context.Context, job acquire.Job, body string) string {
	if o.blobs == nil {
		return ""
	}
	digest, err := o.hasher.Hash([]byte(body))
	if err != nil {
		o.logger.Warn("artifact hash failed", zap.Error(err))
		return ""
	}
	owner := job.ID
	if owner == "" {
		owner = "adhoc"
	}
	objPath := fmt.Sprintf("%s/%s/%s.html", o.cfg.ArtifactPrefix, owner, digest)
	uri, err := o.blobs.PutObject(ctx, objPath, "text/html; charset=utf-8", []byte(body))
	if err != nil {
		o.logger.Warn("artifact store failed", zap.String("path", objPath), zap.Error(err))
		return ""
	}
	return uri
}

func (o *Orchestrator) publishCompletion(ctx context.Context, job acquire.Job, result *acquire.Result) {
	if o.publisher == nil || o.cfg.CompletionTopic == "" || job.ID == "" {
		return
	}
	event := map[string]any{
		"jobId":       job.ID,
		"url":         result.URL,
		"status":      string(acquire.JobStatusCompleted),
		"profileUsed": result.Metadata.ProfileUsed,
		"pathUsed":    result.Metadata.PathUsed,
		"artifactUri": result.Metadata.ArtifactURI,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		o.logger.Warn("completion event marshal failed", zap.Error(err))
		return
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.CompletionTopic, payload); err != nil {
		o.logger.Warn("completion event publish failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// classifyTimeout maps deadline expiry to the retryable timeout class,
// leaving other errors to carry their own classification.
func (o *Orchestrator) classifyTimeout(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return acquire.WrapError(acquire.CodeNavigationTimeout, "attempt deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return acquire.WrapError(acquire.CodeNavigationTimeout, "navigation failed", err)
}

func outcomeLabel(o pathOutcome) string {
	switch o {
	case outcomeSucceeded:
		return "success"
	case outcomeBlocked:
		return "blocked"
	default:
		return "failure"
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

// Package willing scores response opportunities and enforces per-sender
// cooldown plus per-sender/global response quotas.
package willing

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"personabot/internal/domain"
	"personabot/internal/emotion"
	"personabot/internal/relationship"
)

// Attitude is the stylistic label sampled alongside an accept decision.
type Attitude string

const (
	AttitudeFriendly Attitude = "friendly"
	AttitudeNeutral  Attitude = "neutral"
	AttitudeReserved Attitude = "reserved"
)

const (
	responseThreshold = 0.5
	cooldownPenalty   = 0.3
	quotaPenalty      = 0.4
	attitudeEpsilon   = 0.01
)

// importantIntents force a response regardless of score.
var importantIntents = map[string]bool{
	"questions":      true,
	"requests":       true,
	"help_seeking":   true,
	"greeting_to_me": true,
}

// Config tunes the engine. Zero values fall back to documented defaults.
type Config struct {
	BaseWillingness  float64
	MoodInfluence    float64 // emotion weight in attitude selection
	Jitter           float64 // symmetric random term bound
	KeywordBonusCap  float64
	ResponseBias     map[string]float64 // intent category -> bias
	TriggerKeywords  map[string]float64
	EmotionModifiers map[emotion.Affect]float64
	AttitudeBase     map[Attitude]float64

	PrivateCooldown time.Duration
	GroupCooldown   time.Duration

	PerSenderQuota int
	TotalQuota     int
	QuotaPeriod    time.Duration

	Seed uint64 // 0 = time-seeded
}

// DefaultConfig returns the stock scoring parameters.
func DefaultConfig() Config {
	return Config{
		BaseWillingness: 0.7,
		MoodInfluence:   0.4,
		Jitter:          0.05,
		KeywordBonusCap: 0.5,
		ResponseBias: map[string]float64{
			"questions":  0.2,
			"greetings":  0.1,
			"opinions":   0.1,
			"statements": 0.0,
			"commands":   -0.1,
			"irrelevant": -0.2,
			"offensive":  -0.5,
		},
		TriggerKeywords: map[string]float64{},
		EmotionModifiers: map[emotion.Affect]float64{
			emotion.Joy:          0.2,
			emotion.Sadness:      -0.2,
			emotion.Anger:        -0.3,
			emotion.Fear:         -0.1,
			emotion.Surprise:     0.1,
			emotion.Disgust:      -0.3,
			emotion.Trust:        0.3,
			emotion.Anticipation: 0.2,
			emotion.Neutral:      0,
		},
		AttitudeBase: map[Attitude]float64{
			AttitudeFriendly: 0.7,
			AttitudeNeutral:  0.2,
			AttitudeReserved: 0.1,
		},
		PrivateCooldown: 5 * time.Second,
		GroupCooldown:   15 * time.Second,
		PerSenderQuota:  20,
		TotalQuota:      100,
		QuotaPeriod:     time.Hour,
	}
}

// Request describes one response opportunity.
type Request struct {
	Message domain.InternalMessage
	Intent  string // coarse category from the read-air stage
	// Recent conversation activity: how many of the last RecentTurns turns
	// the bot itself authored.
	RecentTurns int
	SelfTurns   int
}

// Breakdown exposes every scoring term for observability and tests.
type Breakdown struct {
	Base         float64 `json:"base"`
	ContentBias  float64 `json:"content_bias"`
	KeywordBonus float64 `json:"keyword_bonus"`
	Emotion      float64 `json:"emotion"`
	Relationship float64 `json:"relationship"`
	Channel      float64 `json:"channel"`
	Activity     float64 `json:"activity"`
	Cooldown     float64 `json:"cooldown"`
	Quota        float64 `json:"quota"`
	Jitter       float64 `json:"jitter"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Respond   bool
	Forced    bool
	Attitude  Attitude
	Score     float64
	Breakdown Breakdown
}

type quotaWindow struct {
	resetAt   time.Time
	perSender map[string]int
	total     int
}

// Engine converts a response opportunity into an accept/reject decision plus
// an attitude, stamping cooldown and quota exactly once per acceptance.
type Engine struct {
	cfg       Config
	emotions  *emotion.Machine
	relations *relationship.Manager
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	lastResponse map[string]time.Time
	quota        quotaWindow
	rng          *rand.Rand
}

// NewEngine wires the engine to its collaborators.
func NewEngine(cfg Config, emotions *emotion.Machine, relations *relationship.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QuotaPeriod <= 0 {
		cfg.QuotaPeriod = time.Hour
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	e := &Engine{
		cfg:          cfg,
		emotions:     emotions,
		relations:    relations,
		logger:       logger,
		now:          time.Now,
		lastResponse: make(map[string]time.Time),
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	e.quota = quotaWindow{
		resetAt:   e.now().Add(cfg.QuotaPeriod),
		perSender: make(map[string]int),
	}
	return e
}

// Evaluate scores the opportunity and, on acceptance, atomically stamps the
// sender's cooldown and both quota counters. This is the only place quota or
// cooldown state mutates.
func (e *Engine) Evaluate(req Request) Decision {
	sender := req.Message.SenderID
	isGroup := req.Message.IsGroup()

	// Snapshot collaborator state outside the engine's critical section.
	emo := e.currentEmotion()
	var relMod float64
	if e.relations != nil {
		relMod = e.relations.Modifier(sender)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.rolloverQuotaLocked(now)

	b := Breakdown{Base: e.cfg.BaseWillingness}

	if e.inCooldownLocked(sender, isGroup, now) {
		b.Cooldown = -cooldownPenalty
	}
	if e.quotaExhaustedLocked(sender) {
		b.Quota = -quotaPenalty
	}
	b.ContentBias = e.cfg.ResponseBias[req.Intent]
	b.KeywordBonus = e.keywordBonus(req.Message.Text)
	b.Emotion = e.cfg.EmotionModifiers[emo.Dominant] * emo.Intensity
	b.Relationship = relMod
	b.Channel = channelModifier(isGroup, req.Message.Addressed)
	b.Activity = activityModifier(req.RecentTurns, req.SelfTurns)
	b.Jitter = (e.rng.Float64()*2 - 1) * e.cfg.Jitter

	score := clamp01(b.Base + b.ContentBias + b.KeywordBonus + b.Emotion +
		b.Relationship + b.Channel + b.Activity + b.Cooldown + b.Quota + b.Jitter)

	forced := req.Message.Addressed || importantIntents[req.Intent]
	respond := forced || score >= responseThreshold
	if respond {
		e.recordUseLocked(sender, isGroup, now)
	}

	d := Decision{
		Respond:   respond,
		Forced:    forced,
		Attitude:  e.sampleAttitudeLocked(score, emo),
		Score:     score,
		Breakdown: b,
	}
	e.logger.Debug("willingness evaluated",
		"sender", sender, "intent", req.Intent,
		"score", score, "respond", respond, "forced", forced, "attitude", d.Attitude)
	return d
}

// Run drives the quota-window reset loop until cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("quota reset loop started", "period", e.cfg.QuotaPeriod)
	for {
		e.mu.Lock()
		resetAt := e.quota.resetAt
		e.mu.Unlock()

		wait := time.Until(resetAt)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("quota reset loop stopped")
			return
		case <-timer.C:
		}

		e.mu.Lock()
		e.resetQuotaLocked(e.now())
		next := e.quota.resetAt
		e.mu.Unlock()
		e.logger.Info("response quota reset", "next_reset", next)
	}
}

// CooldownRemaining reports how long until the sender leaves its cooldown
// window; zero when not cooling down.
func (e *Engine) CooldownRemaining(senderID string, isGroup bool) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastResponse[senderID]
	if !ok {
		return 0
	}
	remaining := e.cooldownFor(isGroup) - e.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (e *Engine) currentEmotion() emotion.State {
	if e.emotions == nil {
		return emotion.State{Dominant: emotion.Neutral}
	}
	return e.emotions.Current()
}

func (e *Engine) keywordBonus(text string) float64 {
	if text == "" || len(e.cfg.TriggerKeywords) == 0 {
		return 0
	}
	var bonus float64
	for kw, weight := range e.cfg.TriggerKeywords {
		if kw != "" && strings.Contains(text, kw) {
			bonus += weight
		}
	}
	ceiling := e.cfg.KeywordBonusCap
	if ceiling <= 0 {
		ceiling = 0.5
	}
	return math.Min(ceiling, bonus)
}

func channelModifier(isGroup, addressed bool) float64 {
	if !isGroup {
		return 0.1
	}
	mod := -0.1
	if addressed {
		mod += 0.5
	}
	return mod
}

// activityModifier penalizes conversations the bot already dominates and
// rewards ones it has barely spoken in.
func activityModifier(recent, self int) float64 {
	if recent <= 0 {
		return 0
	}
	ratio := float64(self) / float64(recent)
	switch {
	case ratio > 0.5:
		return -0.2 * (ratio - 0.5) * 2
	case ratio < 0.2:
		return 0.1
	default:
		return 0
	}
}

func (e *Engine) cooldownFor(isGroup bool) time.Duration {
	if isGroup {
		return e.cfg.GroupCooldown
	}
	return e.cfg.PrivateCooldown
}

func (e *Engine) inCooldownLocked(sender string, isGroup bool, now time.Time) bool {
	last, ok := e.lastResponse[sender]
	if !ok {
		return false
	}
	return now.Sub(last) < e.cooldownFor(isGroup)
}

func (e *Engine) quotaExhaustedLocked(sender string) bool {
	if e.cfg.TotalQuota > 0 && e.quota.total >= e.cfg.TotalQuota {
		return true
	}
	if e.cfg.PerSenderQuota > 0 && e.quota.perSender[sender] >= e.cfg.PerSenderQuota {
		return true
	}
	return false
}

func (e *Engine) recordUseLocked(sender string, isGroup bool, now time.Time) {
	e.lastResponse[sender] = now
	e.quota.total++
	e.quota.perSender[sender]++
}

func (e *Engine) rolloverQuotaLocked(now time.Time) {
	if now.After(e.quota.resetAt) {
		e.resetQuotaLocked(now)
	}
}

func (e *Engine) resetQuotaLocked(now time.Time) {
	e.quota = quotaWindow{
		resetAt:   now.Add(e.cfg.QuotaPeriod),
		perSender: make(map[string]int),
	}
}

// attitudeEmotionDeltas shifts attitude weights per dominant affect.
var attitudeEmotionDeltas = map[emotion.Affect]map[Attitude]float64{
	emotion.Joy:          {AttitudeFriendly: 0.3, AttitudeNeutral: -0.1, AttitudeReserved: -0.2},
	emotion.Sadness:      {AttitudeFriendly: -0.2, AttitudeNeutral: 0.0, AttitudeReserved: 0.2},
	emotion.Anger:        {AttitudeFriendly: -0.3, AttitudeNeutral: -0.1, AttitudeReserved: 0.4},
	emotion.Fear:         {AttitudeFriendly: -0.2, AttitudeNeutral: 0.0, AttitudeReserved: 0.2},
	emotion.Surprise:     {AttitudeFriendly: 0.1, AttitudeNeutral: 0.0, AttitudeReserved: -0.1},
	emotion.Disgust:      {AttitudeFriendly: -0.3, AttitudeNeutral: -0.1, AttitudeReserved: 0.4},
	emotion.Trust:        {AttitudeFriendly: 0.3, AttitudeNeutral: 0.0, AttitudeReserved: -0.3},
	emotion.Anticipation: {AttitudeFriendly: 0.2, AttitudeNeutral: 0.0, AttitudeReserved: -0.2},
	emotion.Neutral:      {AttitudeFriendly: 0.0, AttitudeNeutral: 0.1, AttitudeReserved: -0.1},
}

// sampleAttitudeLocked derives attitude weights from configuration, the
// willingness score, and the dominant emotion, then samples one. Sampling is
// intentionally stochastic rather than argmax.
func (e *Engine) sampleAttitudeLocked(score float64, emo emotion.State) Attitude {
	weights := map[Attitude]float64{
		AttitudeFriendly: e.cfg.AttitudeBase[AttitudeFriendly],
		AttitudeNeutral:  e.cfg.AttitudeBase[AttitudeNeutral],
		AttitudeReserved: e.cfg.AttitudeBase[AttitudeReserved],
	}

	switch {
	case score > 0.8:
		weights[AttitudeFriendly] += 0.2
		weights[AttitudeNeutral] -= 0.1
		weights[AttitudeReserved] -= 0.1
	case score < 0.6:
		weights[AttitudeFriendly] -= 0.2
		weights[AttitudeNeutral] -= 0.1
		weights[AttitudeReserved] += 0.3
	}

	if deltas, ok := attitudeEmotionDeltas[emo.Dominant]; ok {
		for att, d := range deltas {
			weights[att] += d * emo.Intensity * e.cfg.MoodInfluence
		}
	}

	var total float64
	for att := range weights {
		weights[att] = math.Max(attitudeEpsilon, weights[att])
		total += weights[att]
	}

	pick := e.rng.Float64() * total
	for _, att := range []Attitude{AttitudeFriendly, AttitudeNeutral, AttitudeReserved} {
		pick -= weights[att]
		if pick <= 0 {
			return att
		}
	}
	return AttitudeReserved
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

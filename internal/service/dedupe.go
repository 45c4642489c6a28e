package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/orderguard/orderguard/config"
	"github.com/orderguard/orderguard/internal/core"
	"github.com/orderguard/orderguard/internal/domain/decision"
	"github.com/orderguard/orderguard/internal/domain/model"
	"github.com/orderguard/orderguard/internal/validators"
)

// Match weights per key. The sum of matched weights is capped at 1.
const (
	weightEmail   = 0.6
	weightPhone   = 0.3
	weightAddress = 0.2
	weightName    = 0.1
)

// Match key names reported in Match.MatchedOn.
const (
	MatchOnEmail   = "email"
	MatchOnPhone   = "phone"
	MatchOnAddress = "address"
	MatchOnName    = "name"
)

// DedupeServiceOptions groups dependencies for DedupeService.
type DedupeServiceOptions struct {
	Customers core.CustomerRepository // Required: candidate lookup
	// Email and Phone normalize incoming values so they compare equal to stored keys.
	// Nil uses the stock validators.
	Email  decision.FieldValidator
	Phone  decision.FieldValidator
	Config config.DedupeConfig
	Logger *slog.Logger
}

// DedupeService scores an incoming record against the tenant's existing customers.
type DedupeService struct {
	customers core.CustomerRepository
	email     decision.FieldValidator
	phone     decision.FieldValidator
	cfg       config.DedupeConfig
	logger    *slog.Logger
}

// NewDedupeService constructs a new DedupeService.
func NewDedupeService(opts DedupeServiceOptions) (*DedupeService, error) {
	if opts.Customers == nil {
		return nil, errors.New("CustomerRepository is required")
	}
	cfg := opts.Config
	if cfg.MergeThreshold == 0 && cfg.ReviewThreshold == 0 {
		cfg.MergeThreshold, cfg.ReviewThreshold = 0.8, 0.5
	}
	if cfg.CandidateLimit == 0 {
		cfg.CandidateLimit = 50
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dedupe config: %w", err)
	}

	email := opts.Email
	if email == nil {
		email = validators.NewEmailValidator(validators.EmailOptions{})
	}
	phone := opts.Phone
	if phone == nil {
		phone = validators.NewPhoneValidator(validators.PhoneOptions{})
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DedupeService{
		customers: opts.Customers,
		email:     email,
		phone:     phone,
		cfg:       cfg,
		logger:    logger.With("component", "dedupe_service"),
	}, nil
}

// Keys derives the normalized lookup keys for payload. Values that fail
// normalization are left out rather than failing the match.
func (s *DedupeService) Keys(payload *model.ValidationPayload) model.MatchKeys {
	var keys model.MatchKeys
	if payload == nil {
		return keys
	}
	if payload.Email != nil {
		if n, err := s.email.Normalize(model.FieldInput{Text: *payload.Email}); err == nil {
			keys.Email = n
		}
	}
	if payload.Phone != nil {
		if n, err := s.phone.Normalize(model.FieldInput{Text: *payload.Phone}); err == nil {
			keys.Phone = n
		}
	}
	if payload.Address != nil {
		keys.AddressKey = validators.AddressKey(*payload.Address)
	}
	if payload.Name != nil {
		keys.NameKey = validators.NameKey(*payload.Name)
	}
	return keys
}

// FindMatches returns scored candidates, best first, and the suggested action.
// Equal scores are ordered by record id, so the lowest id wins a tie.
func (s *DedupeService) FindMatches(
	ctx context.Context,
	payload *model.ValidationPayload,
	tenantID string,
) (*model.DedupeResult, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, errors.New("tenant id is required")
	}
	keys := s.Keys(payload)
	res := &model.DedupeResult{Matches: []model.Match{}, SuggestedAction: model.SuggestCreateNew}
	if keys.Empty() {
		return res, nil
	}

	candidates, err := s.customers.FindCandidates(ctx, tenantID, keys, s.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	for i := range candidates {
		if m, ok := scoreCandidate(keys, &candidates[i]); ok {
			res.Matches = append(res.Matches, m)
		}
	}
	sort.SliceStable(res.Matches, func(i, j int) bool {
		a, b := res.Matches[i], res.Matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.RecordID < b.RecordID
	})

	if len(res.Matches) == 0 {
		return res, nil
	}
	top := res.Matches[0]
	switch {
	case top.Score >= s.cfg.MergeThreshold:
		res.SuggestedAction = model.SuggestMergeWith
		id := top.RecordID
		res.CanonicalID = &id
	case top.Score >= s.cfg.ReviewThreshold:
		res.SuggestedAction = model.SuggestReview
	}

	s.logger.DebugContext(ctx, "dedupe scored",
		"tenant_id", tenantID,
		"candidates", len(candidates),
		"matches", len(res.Matches),
		"action", res.SuggestedAction,
	)
	return res, nil
}

func scoreCandidate(keys model.MatchKeys, c *model.CustomerRecord) (model.Match, bool) {
	var (
		score float64
		on    []string
	)
	add := func(incoming, stored, name string, w float64) {
		if incoming != "" && incoming == stored {
			score += w
			on = append(on, name)
		}
	}
	add(keys.Email, c.Email, MatchOnEmail, weightEmail)
	add(keys.Phone, c.Phone, MatchOnPhone, weightPhone)
	add(keys.AddressKey, c.AddressKey, MatchOnAddress, weightAddress)
	add(keys.NameKey, c.NameKey, MatchOnName, weightName)
	if len(on) == 0 {
		return model.Match{}, false
	}
	// Rounding keeps sums such as 0.6+0.2 from drifting below a threshold.
	score = math.Min(1, math.Round(score*1e6)/1e6)
	return model.Match{RecordID: c.ID, Score: score, MatchedOn: on}, true
}

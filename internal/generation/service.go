// Package generation implements the paid image-generation flow:
// estimate, authorize, generate, settle, analyze.
//
// The flow is a per-request state machine. An estimate freezes the cost
// and becomes the session's active payment request. Authorization checks
// funds and flips the request to authorized; it never talks to the
// seller. Generate is the only operation with side effects beyond the
// session: it performs the paid gateway request, invokes the image
// backend, delivers the resource, and then settles best-effort.
// Settlement failure is logged and swallowed; a delivered image is never
// retracted.
package generation

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pixelmint/pixelmint/internal/idgen"
	"github.com/pixelmint/pixelmint/internal/logging"
	"github.com/pixelmint/pixelmint/internal/pricing"
	"github.com/pixelmint/pixelmint/internal/session"
	"github.com/pixelmint/pixelmint/internal/syncutil"
	"github.com/pixelmint/pixelmint/internal/traces"
	"github.com/pixelmint/pixelmint/pkg/x402"
)

// Status of a generate call.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusPaymentRequired Status = "payment_required"
)

// Image is raw generated image data plus its media type.
type Image struct {
	Data      []byte
	MediaType string
}

// ImageBackend produces images from text prompts.
type ImageBackend interface {
	GenerateImage(ctx context.Context, prompt, resolution string) (*Image, error)
}

// VisionBackend answers questions about image data.
type VisionBackend interface {
	AnalyzeImage(ctx context.Context, data []byte, mediaType, instruction string) (string, error)
}

// BalanceReader reports the buyer's spendable USDC balance.
type BalanceReader interface {
	Address() string
	USDCBalance(ctx context.Context) (*big.Int, error)
}

// EstimateResult is the outcome of an estimate call.
type EstimateResult struct {
	Request *session.PaymentRequest
	Reused  bool
}

// AuthorizeResult is the outcome of an authorize call.
type AuthorizeResult struct {
	Request           *session.PaymentRequest
	AlreadyAuthorized bool
	Balance           *big.Int
}

// GenerateResult is the outcome of a generate call. Requirement is set
// only for StatusPaymentRequired; Resource and SettledTx only for
// StatusSuccess. SettledTx is empty when settlement failed or is still
// pending on the seller side.
type GenerateResult struct {
	Status      Status
	Request     *session.PaymentRequest
	Requirement *x402.PaymentRequirement
	Resource    *session.Resource
	SettledTx   string
}

// Service drives the payment state machine.
type Service struct {
	sessions  *session.Store
	estimator *pricing.Estimator
	balance   BalanceReader
	gateway   Gateway
	images    ImageBackend
	vision    VisionBackend
	locks     *syncutil.ContextShardedMutex
}

// NewService creates the generation service.
func NewService(sessions *session.Store, estimator *pricing.Estimator, balance BalanceReader, gateway Gateway, images ImageBackend, vision VisionBackend) *Service {
	return &Service{
		sessions:  sessions,
		estimator: estimator,
		balance:   balance,
		gateway:   gateway,
		images:    images,
		vision:    vision,
		locks:     syncutil.NewContextShardedMutex(),
	}
}

// Estimate prices a prompt and records it as the session's payment
// request. Repeating the call while a request is pending returns the
// same request with its original cost.
func (s *Service) Estimate(ctx context.Context, sessionID, prompt, resolution, quality string) (*EstimateResult, error) {
	sess := s.sessions.GetOrCreate(sessionID)
	ctx = logging.WithSessionID(ctx, sess.ID)
	ctx, span := traces.StartSpan(ctx, "generation.estimate", traces.SessionID(sess.ID))
	defer span.End()

	est, err := s.estimator.Estimate(ctx, resolution, quality)
	if err != nil {
		return nil, err
	}

	req, reused := sess.RecordEstimate(est, prompt)
	logging.L(ctx).Info("estimate recorded",
		"request_id", req.ID,
		"cost_usd", req.CostUSD,
		"resolution", req.Resolution,
		"quality", req.Quality,
		"reused", reused)

	return &EstimateResult{Request: req, Reused: reused}, nil
}

// Authorize checks funds and flips the request to authorized. An empty
// requestID resolves to the session's active request. Authorizing an
// already-authorized request succeeds without re-checking funds.
func (s *Service) Authorize(ctx context.Context, sessionID, requestID string) (*AuthorizeResult, error) {
	sess := s.sessions.GetOrCreate(sessionID)
	ctx = logging.WithSessionID(ctx, sess.ID)
	ctx, span := traces.StartSpan(ctx, "generation.authorize", traces.SessionID(sess.ID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := sess.Request(requestID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.RequestID(req.ID), traces.Amount(req.CostUSD))
	ctx = logging.WithRequestID(ctx, req.ID)

	if req.Authorized {
		return &AuthorizeResult{Request: req, AlreadyAuthorized: true}, nil
	}

	available, err := s.balance.USDCBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check balance: %w", err)
	}

	if available.Cmp(req.CostUnits) < 0 {
		logging.L(ctx).Warn("authorization declined",
			"needed", req.CostUnits.String(),
			"available", available.String())
		return nil, &session.InsufficientFundsError{
			Needed:    new(big.Int).Set(req.CostUnits),
			Available: available,
		}
	}

	if _, err := sess.MarkAuthorized(req.ID); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("payment authorized", "amount", req.CostUSD)

	return &AuthorizeResult{Request: req, Balance: available}, nil
}

// Generate runs the paid generation flow for a request. Unauthorized
// requests get a side-effect-free payment challenge back. Authorized
// requests are paid for, generated, delivered, and then settled
// best-effort.
func (s *Service) Generate(ctx context.Context, sessionID, requestID string) (*GenerateResult, error) {
	sess := s.sessions.GetOrCreate(sessionID)
	ctx = logging.WithSessionID(ctx, sess.ID)
	ctx, span := traces.StartSpan(ctx, "generation.generate", traces.SessionID(sess.ID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := sess.Request(requestID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.RequestID(req.ID), traces.Amount(req.CostUSD))
	ctx = logging.WithRequestID(ctx, req.ID)

	// A request that already produced an image is terminal. It stays
	// resolvable by explicit ID, but must never re-enter the paid path.
	if req.ResourceID != "" {
		return nil, fmt.Errorf("%w: request %s already completed", session.ErrNoActiveRequest, req.ID)
	}

	gwReq := GenerateRequest{
		RequestID: req.ID,
		Prompt:    req.Description,
		Price:     req.CostUSD,
	}

	if !req.Authorized {
		requirement, err := s.gateway.Challenge(ctx, gwReq)
		if err != nil {
			return nil, err
		}
		logging.L(ctx).Info("payment required", "price", requirement.Price, "nonce", requirement.Nonce)
		return &GenerateResult{
			Status:      StatusPaymentRequired,
			Request:     req,
			Requirement: requirement,
		}, nil
	}

	paid, err := s.gateway.Generate(ctx, gwReq)
	if err != nil {
		return nil, err
	}
	logging.L(ctx).Info("payment accepted", "nonce", paid.Nonce)

	img, err := s.images.GenerateImage(ctx, req.Description, req.Resolution)
	if err != nil {
		// Payment was verified but nothing was delivered; the seller's
		// pending settlement for this nonce is never triggered.
		logging.L(ctx).Error("generation failed after payment", "nonce", paid.Nonce, "error", err)
		return nil, fmt.Errorf("image generation failed: %w", err)
	}

	res := &session.Resource{
		ID:        idgen.Image(),
		Data:      img.Data,
		MediaType: img.MediaType,
		CreatedAt: time.Now(),
	}
	if err := sess.AttachResource(req.ID, res); err != nil {
		return nil, err
	}
	s.sessions.Archive(res)
	span.SetAttributes(traces.ImageID(res.ID))

	result := &GenerateResult{
		Status:   StatusSuccess,
		Request:  req,
		Resource: res,
	}

	// Delivery is final. Settlement failure is the seller's loss to
	// reconcile, not a reason to retract the image.
	settled, err := s.gateway.Settle(ctx, paid.Nonce)
	if err != nil {
		logging.L(ctx).Warn("settlement failed", "nonce", paid.Nonce, "error", err)
	} else {
		result.SettledTx = settled.TransactionHash
		logging.L(ctx).Info("payment settled", "nonce", paid.Nonce, "tx", settled.TransactionHash)
	}

	return result, nil
}

// Analyze runs the vision backend over a previously generated image.
// Accepts ids in "IMAGE_ID:<id>" or bare form. Images from completed
// sessions are found through the archive.
func (s *Service) Analyze(ctx context.Context, sessionID, imageID, instruction string) (string, error) {
	id := strings.TrimPrefix(strings.TrimSpace(imageID), "IMAGE_ID:")

	sess := s.sessions.GetOrCreate(sessionID)
	ctx = logging.WithSessionID(ctx, sess.ID)
	ctx, span := traces.StartSpan(ctx, "generation.analyze", traces.SessionID(sess.ID), traces.ImageID(id))
	defer span.End()

	res, ok := sess.Resource(id)
	if !ok {
		res, ok = s.sessions.ArchivedResource(id)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", session.ErrResourceNotFound, id)
	}

	return s.vision.AnalyzeImage(ctx, res.Data, res.MediaType, instruction)
}

// DrainResources returns the session's undelivered images, at most once
// each.
func (s *Service) DrainResources(sessionID string) []*session.Resource {
	return s.sessions.GetOrCreate(sessionID).DrainResources()
}

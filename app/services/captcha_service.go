package services

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wenlng/go-captcha/v2/rotate"
)

// CaptchaService gates dashboard login with a rotate captcha.
// Generate returns a challenge ID and two base64 images; the client rotates
// the thumb and submits the angle with the challenge ID. Challenges are
// single use and expire after the configured TTL.
type CaptchaService interface {
	GenerateRotate(ctx context.Context) (*RotateChallenge, error)
	VerifyRotate(ctx context.Context, challengeID string, userAngle float64) bool
}

type RotateChallenge struct {
	ID                string
	MasterImageBase64 string
	ThumbImageBase64  string
	ExpiresIn         time.Duration
}

// ChallengeStore keeps target angles of outstanding challenges
type ChallengeStore interface {
	Put(ctx context.Context, id string, angle int, ttl time.Duration) error
	// Take returns and removes the angle of a challenge
	Take(ctx context.Context, id string) (int, bool, error)
}

type captchaServiceImpl struct {
	rotator rotate.Captcha
	store   ChallengeStore
	ttl     time.Duration
	padding int // tolerance for angle validation
}

// NewCaptchaServiceRotate constructs a CaptchaService using rotate mode.
// A nil store keeps challenges in process memory.
func NewCaptchaServiceRotate(ttl time.Duration, padding int, imgSizePx int, store ChallengeStore) (CaptchaService, error) {
	if imgSizePx <= 0 {
		imgSizePx = 220
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if store == nil {
		store = NewMemoryChallengeStore()
	}

	builder := rotate.NewBuilder(
		rotate.WithImageSquareSize(imgSizePx),
	)
	builder.SetResources(
		rotate.WithImages(generateRotateBackgrounds(3, imgSizePx)),
	)

	return &captchaServiceImpl{
		rotator: builder.Make(),
		store:   store,
		ttl:     ttl,
		padding: padding,
	}, nil
}

func (s *captchaServiceImpl) GenerateRotate(ctx context.Context) (*RotateChallenge, error) {
	captData, err := s.rotator.Generate()
	if err != nil {
		return nil, err
	}

	block := captData.GetData()
	if block == nil {
		return nil, errors.New("captcha generator returned no data")
	}

	masterB64, err := captData.GetMasterImage().ToBase64()
	if err != nil {
		return nil, err
	}
	thumbB64, err := captData.GetThumbImage().ToBase64()
	if err != nil {
		return nil, err
	}

	challengeID := uuid.New().String()
	if err := s.store.Put(ctx, challengeID, block.Angle, s.ttl); err != nil {
		return nil, err
	}

	return &RotateChallenge{
		ID:                challengeID,
		MasterImageBase64: masterB64,
		ThumbImageBase64:  thumbB64,
		ExpiresIn:         s.ttl,
	}, nil
}

func (s *captchaServiceImpl) VerifyRotate(ctx context.Context, challengeID string, userAngle float64) bool {
	// consumed on success or failure
	target, ok, err := s.store.Take(ctx, challengeID)
	if err != nil || !ok {
		return false
	}
	return rotate.Validate(int(math.Round(userAngle)), target, s.padding)
}

// RedisChallengeStore shares challenges between API instances
type RedisChallengeStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisChallengeStore(client redis.UniversalClient, prefix string) *RedisChallengeStore {
	return &RedisChallengeStore{client: client, prefix: prefix + "captcha:"}
}

func (s *RedisChallengeStore) Put(ctx context.Context, id string, angle int, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+id, angle, ttl).Err()
}

func (s *RedisChallengeStore) Take(ctx context.Context, id string) (int, bool, error) {
	val, err := s.client.GetDel(ctx, s.prefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	angle, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, err
	}
	return angle, true, nil
}

type challengeEntry struct {
	targetAngle int
	expiresAt   time.Time
}

// MemoryChallengeStore keeps challenges in process memory
type MemoryChallengeStore struct {
	mu sync.Mutex
	m  map[string]challengeEntry
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{m: make(map[string]challengeEntry)}
}

func (s *MemoryChallengeStore) Put(_ context.Context, id string, angle int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, v := range s.m {
		if now.After(v.expiresAt) {
			delete(s.m, k)
		}
	}
	s.m[id] = challengeEntry{targetAngle: angle, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryChallengeStore) Take(_ context.Context, id string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok {
		return 0, false, nil
	}
	delete(s.m, id)
	if time.Now().After(e.expiresAt) {
		return 0, false, nil
	}
	return e.targetAngle, true, nil
}

// generateRotateBackgrounds draws simple gradient images for the rotator
func generateRotateBackgrounds(n int, size int) []image.Image {
	if n <= 0 {
		n = 1
	}
	imgs := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		imgs = append(imgs, newNoiseGradientImage(size, size))
	}
	return imgs
}

func newNoiseGradientImage(w, h int) image.Image {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := float64(x - w/2)
			dy := float64(y - h/2)
			t := math.Min(math.Sqrt(dx*dx+dy*dy)/float64(w/2), 1)
			base := uint8(200 - int(150*t))
			noise := uint8(rand.Intn(30))
			rgba.Set(x, y, color.RGBA{R: base, G: base + noise/3, B: 255 - base/2, A: 255})
		}
	}
	drawRect(rgba, 10, 10, w/3, h/12, color.RGBA{R: 255, G: 255, B: 255, A: 32})
	drawRect(rgba, w/2, h/3, w/3, h/10, color.RGBA{R: 0, G: 0, B: 0, A: 24})
	return rgba
}

func drawRect(dst *image.RGBA, x, y, w, h int, c color.RGBA) {
	draw.Draw(dst, image.Rect(x, y, x+w, y+h), &image.Uniform{C: c}, image.Point{}, draw.Over)
}

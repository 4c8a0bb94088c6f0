package businessflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/amirphl/Kagutsuchi/app/services"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DedupCandidate is the identity view of a submission
type DedupCandidate struct {
	ID          uint
	Email       string
	Phone       string
	SubmittedAt time.Time
}

// DedupKey is the group label of a candidate: email, else phone, else the row itself
func DedupKey(c DedupCandidate) string {
	switch {
	case c.Email != "":
		return "email:" + c.Email
	case c.Phone != "":
		return "phone:" + c.Phone
	default:
		return fmt.Sprintf("row:%d", c.ID)
	}
}

// RankForDedup returns the ids to keep (duplicated=false).
// Candidates sharing an email or a phone, directly or through other
// candidates, form one group. In each group the most recent submission
// wins; equal timestamps go to the higher id.
func RankForDedup(cands []DedupCandidate) map[uint]bool {
	parent := make([]int, len(cands))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	firstByKey := make(map[string]int)
	link := func(key string, i int) {
		if j, ok := firstByKey[key]; ok {
			union(j, i)
			return
		}
		firstByKey[key] = i
	}
	for i, c := range cands {
		if c.Email != "" {
			link("e:"+c.Email, i)
		}
		if c.Phone != "" {
			link("p:"+c.Phone, i)
		}
	}

	best := make(map[int]int)
	for i, c := range cands {
		root := find(i)
		j, ok := best[root]
		if !ok || newer(c, cands[j]) {
			best[root] = i
		}
	}

	keep := make(map[uint]bool, len(best))
	for _, i := range best {
		keep[cands[i].ID] = true
	}
	return keep
}

func newer(a, b DedupCandidate) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.After(b.SubmittedAt)
	}
	return a.ID > b.ID
}

func candidateOf(s *models.FormSubmission) DedupCandidate {
	return DedupCandidate{ID: s.ID, Email: s.Email, Phone: s.Phone, SubmittedAt: s.SubmittedAt}
}

// maxIdentityExpansion bounds the transitive candidate search at intake
const maxIdentityExpansion = 8

// Deduplicator applies RankForDedup to stored submissions
type Deduplicator struct {
	submissionRepo repository.FormSubmissionRepository
	db             *gorm.DB
	logger         *zap.Logger
}

func NewDeduplicator(submissionRepo repository.FormSubmissionRepository, db *gorm.DB, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{submissionRepo: submissionRepo, db: db, logger: logger.Named("dedup")}
}

// AfterInsert deduplicates the identity group of a freshly committed
// submission and returns how many rows it newly marked. The new row is
// never marked.
func (d *Deduplicator) AfterInsert(ctx context.Context, sub *models.FormSubmission) (int, error) {
	if sub.Email == "" && sub.Phone == "" {
		return 0, nil
	}

	group, err := d.identityGroup(ctx, sub)
	if err != nil {
		return 0, err
	}
	if len(group) <= 1 {
		return 0, nil
	}

	cands := make([]DedupCandidate, 0, len(group))
	for _, s := range group {
		cands = append(cands, candidateOf(s))
	}
	keep := RankForDedup(cands)
	if !keep[sub.ID] {
		// an imported row carries a later timestamp than this intake
		d.logger.Warn("Newer submission exists in identity group; keeping the new row",
			zap.Uint("submission_id", sub.ID), zap.String("group", DedupKey(candidateOf(sub))))
		keep = map[uint]bool{sub.ID: true}
	}

	marked, _, err := d.apply(ctx, group, keep)
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		d.logger.Info("Marked duplicate submissions",
			zap.Uint("form_id", sub.FormID),
			zap.Uint("kept_id", sub.ID),
			zap.String("group", DedupKey(candidateOf(sub))),
			zap.Int("marked", marked))
	}
	return marked, nil
}

// identityGroup loads every submission of the form linked to sub through
// shared emails or phones
func (d *Deduplicator) identityGroup(ctx context.Context, sub *models.FormSubmission) ([]*models.FormSubmission, error) {
	byID := map[uint]*models.FormSubmission{sub.ID: sub}
	emails := map[string]bool{}
	phones := map[string]bool{}
	pendingEmails := []string{}
	pendingPhones := []string{}
	addKeys := func(s *models.FormSubmission) {
		if s.Email != "" && !emails[s.Email] {
			emails[s.Email] = true
			pendingEmails = append(pendingEmails, s.Email)
		}
		if s.Phone != "" && !phones[s.Phone] {
			phones[s.Phone] = true
			pendingPhones = append(pendingPhones, s.Phone)
		}
	}
	addKeys(sub)

	for round := 0; round < maxIdentityExpansion && (len(pendingEmails) > 0 || len(pendingPhones) > 0); round++ {
		qe, qp := pendingEmails, pendingPhones
		pendingEmails, pendingPhones = nil, nil

		rows, err := d.submissionRepo.ListIdentityCandidates(ctx, sub.FormID, qe, qp)
		if err != nil {
			return nil, fmt.Errorf("failed to load identity candidates: %w", err)
		}
		for _, r := range rows {
			if _, seen := byID[r.ID]; seen {
				continue
			}
			byID[r.ID] = r
			addKeys(r)
		}
	}

	out := make([]*models.FormSubmission, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Reconcile rewrites every duplicated flag of a form from RankForDedup.
// It returns how many rows were newly marked and how many were cleared.
func (d *Deduplicator) Reconcile(ctx context.Context, formID uint) (marked, cleared int, err error) {
	rows, err := d.submissionRepo.ListByForm(ctx, formID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load submissions of form %d: %w", formID, err)
	}

	cands := make([]DedupCandidate, 0, len(rows))
	for _, s := range rows {
		cands = append(cands, candidateOf(s))
	}
	marked, cleared, err = d.apply(ctx, rows, RankForDedup(cands))
	if err != nil {
		return 0, 0, err
	}
	d.logger.Info("Reconciled duplicates",
		zap.Uint("form_id", formID),
		zap.Int("rows", len(rows)),
		zap.Int("marked", marked),
		zap.Int("cleared", cleared))
	return marked, cleared, nil
}

// apply writes the flags that differ from the keep set in one transaction
func (d *Deduplicator) apply(ctx context.Context, rows []*models.FormSubmission, keep map[uint]bool) (int, int, error) {
	var toMark, toClear []uint
	for _, s := range rows {
		switch {
		case keep[s.ID] && s.Duplicated:
			toClear = append(toClear, s.ID)
		case !keep[s.ID] && !s.Duplicated:
			toMark = append(toMark, s.ID)
		}
	}
	if len(toMark) == 0 && len(toClear) == 0 {
		return 0, 0, nil
	}

	err := repository.WithTransaction(ctx, d.db, func(txCtx context.Context) error {
		if err := d.submissionRepo.SetDuplicated(txCtx, toMark, true); err != nil {
			return err
		}
		return d.submissionRepo.SetDuplicated(txCtx, toClear, false)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to write duplicate flags: %w", err)
	}

	services.DuplicatesMarked.Add(float64(len(toMark)))
	return len(toMark), len(toClear), nil
}

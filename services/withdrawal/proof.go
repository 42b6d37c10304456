package withdrawal

import (
	"context"
	"strings"

	"apextrade-backend/pkg/db/option"
	"apextrade-backend/pkg/errutil"
	"apextrade-backend/pkg/gen"
	"apextrade-backend/pkg/logger"
	"apextrade-backend/services/audit"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) validateUpload(up ProofUpload) error {
	var details []errutil.Detail
	if _, ok := allowedContentTypes[strings.ToLower(up.ContentType)]; !ok {
		details = append(details, errutil.Detail{Field: "content_type", Message: "must be an image or pdf"})
	}
	if up.Size <= 0 {
		details = append(details, errutil.Detail{Field: "size", Message: "file is empty"})
	}
	if up.Size > s.maxUploadSize {
		details = append(details, errutil.Detail{Field: "size", Message: "file is too large"})
	}
	if up.Body == nil {
		details = append(details, errutil.Detail{Field: "file", Message: "required"})
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("invalid upload", nil, errutil.WithDetails(details...))
	}
	return nil
}

func (s *Service) newUpload(link ProofLink, up ProofUpload) *UploadedProof {
	id := gen.ID(s.node, "upl")
	contentType := strings.ToLower(up.ContentType)
	return &UploadedProof{
		ID:          id,
		Link:        link,
		ObjectKey:   objectKey(link, id, contentType, up.Filename),
		ContentType: contentType,
		Size:        up.Size,
		Status:      ProofPending,
		CreatedAt:   s.clock.Now(),
	}
}

// SubmitProof stores a payment proof for a pending fee.
func (s *Service) SubmitProof(ctx context.Context, feeID string, up ProofUpload) (*UploadedProof, error) {
	log := logger.FromContext(ctx).With(zap.String("fee_id", feeID))

	if err := s.validateUpload(up); err != nil {
		return nil, err
	}

	fee, err := s.getFee(ctx, s.fees, feeID)
	if err != nil {
		return nil, err
	}
	if _, ok := NextFeeStatus(fee.Status, FeeEventSubmitProof); !ok {
		return nil, errutil.InvalidState("fee is "+string(fee.Status), nil)
	}

	upload := s.newUpload(FeeLink(fee.ID), up)
	if err := s.store.Put(ctx, upload.ObjectKey, up.Body, up.Size, upload.ContentType); err != nil {
		log.Error("failed to store proof", zap.Error(err))
		return nil, errutil.Storage("failed to store proof", err)
	}

	var userID string
	err = s.withLockedWithdrawal(ctx, fee.WithdrawalID, func(tx *gorm.DB, w *Withdrawal) error {
		userID = w.UserID
		current, err := s.getFee(ctx, s.fees.WithTrx(tx), fee.ID)
		if err != nil {
			return err
		}
		if err := s.moveFee(ctx, tx, current, FeeEventSubmitProof); err != nil {
			return err
		}
		if err := s.uploads.WithTrx(tx).Create(ctx, upload); err != nil {
			return errutil.Storage("failed to create upload", err)
		}
		return nil
	})
	if err != nil {
		if rerr := s.store.Remove(ctx, upload.ObjectKey); rerr != nil {
			log.Warn("failed to remove orphaned proof", zap.String("key", upload.ObjectKey), zap.Error(rerr))
		}
		return nil, err
	}

	s.audit.Record(ctx, audit.ActorClient, audit.ProofSubmitted, map[string]any{
		"withdrawal_id": fee.WithdrawalID,
		"fee_id":        fee.ID,
		"upload_id":     upload.ID,
		"user_id":       userID,
	})
	return upload, nil
}

// SubmitInvestmentProof stores a deposit proof linked to an investment.
func (s *Service) SubmitInvestmentProof(ctx context.Context, investmentID string, up ProofUpload) (*UploadedProof, error) {
	if err := s.validateUpload(up); err != nil {
		return nil, err
	}

	inv, err := s.investments.Get(ctx, investmentID)
	if err != nil {
		return nil, err
	}

	upload := s.newUpload(InvestmentLink(inv.ID), up)
	if err := s.store.Put(ctx, upload.ObjectKey, up.Body, up.Size, upload.ContentType); err != nil {
		return nil, errutil.Storage("failed to store proof", err)
	}
	if err := s.uploads.Create(ctx, upload); err != nil {
		if rerr := s.store.Remove(ctx, upload.ObjectKey); rerr != nil {
			logger.FromContext(ctx).Warn("failed to remove orphaned proof", zap.String("key", upload.ObjectKey), zap.Error(rerr))
		}
		return nil, errutil.Storage("failed to create upload", err)
	}

	s.audit.Record(ctx, audit.ActorClient, audit.ProofSubmitted, map[string]any{
		"investment_id": inv.ID,
		"upload_id":     upload.ID,
		"user_id":       inv.Owner(),
	})
	return upload, nil
}

func (s *Service) markUpload(ctx context.Context, tx *gorm.DB, upload *UploadedProof, approve bool, note string) error {
	status := ProofRejected
	if approve {
		status = ProofApproved
	}
	now := s.clock.Now()

	res := tx.WithContext(ctx).Model(&UploadedProof{}).
		Where("id = ? AND status = ?", upload.ID, ProofPending).
		Updates(map[string]any{"status": status, "admin_note": note, "reviewed_at": now})
	if res.Error != nil {
		return errutil.Storage("failed to update upload", res.Error)
	}
	if res.RowsAffected == 0 {
		return errutil.InvalidState("upload already reviewed", nil)
	}
	upload.Status = status
	upload.AdminNote = note
	upload.ReviewedAt = &now
	return nil
}

// ReviewProof approves or rejects a pending upload. Approving a fee proof
// issues the fee OTP and returns the plaintext code once.
func (s *Service) ReviewProof(ctx context.Context, uploadID string, approve bool, note string) (*ReviewResult, error) {
	note = strings.TrimSpace(note)

	upload, err := s.uploads.FindOne(ctx, &UploadedProof{ID: uploadID})
	if err != nil {
		return nil, errutil.Storage("failed to load upload", err)
	}
	if upload == nil {
		return nil, errutil.NotFound("upload not found", nil)
	}
	if upload.Status != ProofPending {
		return nil, errutil.InvalidState("upload is "+string(upload.Status), nil)
	}

	payload := map[string]any{
		"upload_id": upload.ID,
		"approved":  approve,
		"note":      note,
	}

	if upload.Link.Kind != LinkFee {
		if err := s.markUpload(ctx, s.db, upload, approve, note); err != nil {
			return nil, err
		}
		payload["investment_id"] = upload.Link.ID
		s.audit.Record(ctx, audit.ActorAdmin, audit.ProofReviewed, payload)
		return &ReviewResult{Upload: upload}, nil
	}

	fee, err := s.getFee(ctx, s.fees, upload.Link.ID)
	if err != nil {
		return nil, err
	}

	feeEvent := FeeEventProofRejected
	if approve {
		feeEvent = FeeEventProofApproved
	}

	var userID string
	err = s.withLockedWithdrawal(ctx, fee.WithdrawalID, func(tx *gorm.DB, w *Withdrawal) error {
		userID = w.UserID
		current, err := s.getFee(ctx, s.fees.WithTrx(tx), fee.ID)
		if err != nil {
			return err
		}
		if err := s.moveFee(ctx, tx, current, feeEvent); err != nil {
			return err
		}
		if err := s.markUpload(ctx, tx, upload, approve, note); err != nil {
			return err
		}
		fee = current
		if !approve {
			return nil
		}
		return s.moveWithdrawal(ctx, tx, w, EventProofApproved, nil)
	})
	if err != nil {
		return nil, err
	}

	payload["withdrawal_id"] = fee.WithdrawalID
	payload["fee_id"] = fee.ID
	payload["user_id"] = userID
	s.audit.Record(ctx, audit.ActorAdmin, audit.ProofReviewed, payload)

	result := &ReviewResult{Upload: upload}
	if approve {
		code, err := s.issueFeeCode(ctx, fee, userID)
		if err != nil {
			// the fee stays otp_sent; ResendFeeOtp recovers
			return nil, err
		}
		result.Code = code
	}
	return result, nil
}

// ListUploads returns uploads oldest first, optionally filtered by status.
func (s *Service) ListUploads(ctx context.Context, status ProofStatus) ([]*UploadedProof, error) {
	out, err := s.uploads.Find(ctx, &UploadedProof{Status: status},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}))
	if err != nil {
		return nil, errutil.Storage("failed to list uploads", err)
	}
	return out, nil
}

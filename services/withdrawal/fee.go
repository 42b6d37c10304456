package withdrawal

import (
	"context"

	"apextrade-backend/pkg/errutil"
	"apextrade-backend/pkg/logger"
	"apextrade-backend/services/audit"
	"apextrade-backend/services/otp"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// issueFeeCode keys the code to the fee id and owner of the withdrawal.
func (s *Service) issueFeeCode(ctx context.Context, fee *Fee, userID string) (string, error) {
	code, err := s.otp.Issue(ctx, otp.IssueRequest{
		Purpose:   otp.PurposeFee,
		SubjectID: fee.ID,
		OwnerID:   userID,
	})
	if err != nil {
		return "", err
	}

	s.audit.Record(ctx, audit.ActorSystem, audit.FeeOtpIssued, map[string]any{
		"withdrawal_id": fee.WithdrawalID,
		"fee_id":        fee.ID,
		"user_id":       userID,
	})
	return code, nil
}

// ResendFeeOtp replaces the outstanding code of a fee waiting for OTP.
func (s *Service) ResendFeeOtp(ctx context.Context, feeID string) (string, error) {
	fee, err := s.getFee(ctx, s.fees, feeID)
	if err != nil {
		return "", err
	}
	if _, ok := NextFeeStatus(fee.Status, FeeEventResendOtp); !ok {
		return "", errutil.InvalidState("fee is "+string(fee.Status), nil)
	}

	w, err := s.getWithdrawal(ctx, s.withdrawals, fee.WithdrawalID)
	if err != nil {
		return "", err
	}
	return s.issueFeeCode(ctx, fee, w.UserID)
}

// VerifyFeeOtp redeems the fee code and approves the withdrawal once every
// fee is verified or paid. Concurrent verifications of sibling fees are
// serialized on the withdrawal so exactly one of them observes the full set.
//
// The code is consumed before the transaction. If the transaction fails the
// fee stays otp_sent with no live code; ResendFeeOtp issues a new one.
func (s *Service) VerifyFeeOtp(ctx context.Context, feeID, code string) (*Withdrawal, error) {
	log := logger.FromContext(ctx).With(zap.String("fee_id", feeID))

	fee, err := s.getFee(ctx, s.fees, feeID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(fee.WithdrawalID)
	defer unlock()

	if _, ok := NextFeeStatus(fee.Status, FeeEventOtpVerified); !ok {
		return nil, errutil.InvalidState("fee is "+string(fee.Status), nil)
	}

	if err := s.otp.Redeem(ctx, fee.ID, code); err != nil {
		return nil, err
	}

	var (
		w        *Withdrawal
		approved bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = s.lockWithdrawal(ctx, tx, fee.WithdrawalID)
		if err != nil {
			return err
		}

		current, err := s.getFee(ctx, s.fees.WithTrx(tx), fee.ID)
		if err != nil {
			return err
		}
		if err := s.moveFee(ctx, tx, current, FeeEventOtpVerified); err != nil {
			return err
		}

		fees, err := s.listFees(ctx, s.fees.WithTrx(tx), w.ID)
		if err != nil {
			return err
		}
		if !allCleared(fees) {
			return nil
		}
		if _, ok := NextStatus(w.Status, EventAllFeesVerified); !ok {
			return nil
		}
		if err := s.moveWithdrawal(ctx, tx, w, EventAllFeesVerified, nil); err != nil {
			return err
		}
		approved = true
		return nil
	})
	if err != nil {
		log.Warn("fee code consumed but verification failed, resend required", zap.String("withdrawal_id", fee.WithdrawalID), zap.Error(err))
		return nil, err
	}

	s.audit.Record(ctx, audit.ActorClient, audit.FeeVerified, map[string]any{
		"withdrawal_id": w.ID,
		"fee_id":        fee.ID,
		"user_id":       w.UserID,
	})
	if approved {
		s.audit.Record(ctx, audit.ActorSystem, audit.WithdrawalApproved, map[string]any{
			"withdrawal_id": w.ID,
			"user_id":       w.UserID,
		})
	}
	return w, nil
}

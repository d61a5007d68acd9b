package service

import (
	"context"
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/repository"
	"edurefund_backend/internal/util"
	"edurefund_backend/pkg/logger"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ProfileService struct {
	ProfileRepo *repository.ProfileRepository
	UserRepo    *repository.UserRepository
	Enrollments *EnrollmentService
}

func NewProfileService(profileRepo *repository.ProfileRepository, userRepo *repository.UserRepository, enrollments *EnrollmentService) *ProfileService {
	return &ProfileService{
		ProfileRepo: profileRepo,
		UserRepo:    userRepo,
		Enrollments: enrollments,
	}
}

// ProfileView 个人资料及学习统计
type ProfileView struct {
	model.Profile
	Stats *LearningStats `json:"stats,omitempty"`
}

// GetProfile 没有保存过资料时用注册信息补全
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*ProfileView, error) {
	if userID == "" {
		return nil, util.ErrUserNotFound
	}

	profile, err := s.ProfileRepo.FindByUserID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user, uerr := s.UserRepo.FindByID(ctx, userID)
		if errors.Is(uerr, gorm.ErrRecordNotFound) {
			return nil, util.ErrProfileNotFound
		} else if uerr != nil {
			return nil, uerr
		}
		profile = &model.Profile{UserID: user.ID, Name: user.Name, Email: user.Email}
	} else if err != nil {
		return nil, err
	}

	view := &ProfileView{Profile: *profile}
	if s.Enrollments != nil {
		stats, err := s.Enrollments.Stats(ctx, userID)
		if err != nil {
			// 统计不可用时仍返回资料本身
			logger.Log.Warn("Learning stats unavailable", zap.String("userId", userID), zap.Error(err))
		} else {
			view.Stats = stats
		}
	}
	return view, nil
}

func (s *ProfileService) SaveProfile(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	if profile.UserID == "" {
		return nil, util.ErrUserNotFound
	}
	if _, err := s.UserRepo.FindByID(ctx, profile.UserID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrUserNotFound
		}
		return nil, err
	}

	profile.Name = strings.TrimSpace(profile.Name)
	profile.Email = strings.ToLower(strings.TrimSpace(profile.Email))
	if err := s.ProfileRepo.Upsert(ctx, profile); err != nil {
		return nil, err
	}
	return s.ProfileRepo.FindByUserID(ctx, profile.UserID)
}

package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cuongbtq/brandgen/internal/api/dto"
	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/pricing"
)

var errMissingField = errors.New("missing required field")

// buildPayload turns a confirmed request and its quote into the typed job
// payload. The quoted cost is fixed here and never recomputed.
func buildPayload(req *dto.CreateJobRequest, quote pricing.Quote) (domain.Payload, error) {
	env := domain.Envelope{
		UserID:            req.UserID,
		ChatID:            req.ChatID,
		Prompt:            strings.TrimSpace(req.Prompt),
		Session:           req.Session,
		Count:             quote.Units,
		Cost:              quote.Cost,
		UseFreeGeneration: quote.UseFreeGeneration,
	}

	require := func(name, value string) error {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s", errMissingField, name)
		}
		return nil
	}

	switch domain.JobType(req.JobType) {
	case domain.JobTypeLogo:
		if err := require("brand_name", req.BrandName); err != nil {
			return nil, err
		}
		return domain.LogoJob{Envelope: env, BrandName: req.BrandName, Style: req.Style, Colors: req.Colors}, nil

	case domain.JobTypeMeme:
		if err := require("prompt", env.Prompt); err != nil {
			return nil, err
		}
		quality := req.Quality
		if quality == "" {
			quality = domain.QualityStandard
		}
		return domain.MemeJob{
			Envelope:          env,
			Quality:           quality,
			ReferenceImageURL: req.ReferenceImageURL,
			TopText:           req.TopText,
			BottomText:        req.BottomText,
		}, nil

	case domain.JobTypeSticker:
		if err := require("prompt", env.Prompt); err != nil {
			return nil, err
		}
		return domain.StickerJob{Envelope: env, UnitCost: quote.UnitCost, Emotions: req.Emotions}, nil

	case domain.JobTypeEdit:
		if err := require("source_image_url", req.SourceImageURL); err != nil {
			return nil, err
		}
		instruction := req.Instruction
		if instruction == "" {
			instruction = env.Prompt
		}
		if err := require("instruction", instruction); err != nil {
			return nil, err
		}
		return domain.EditJob{Envelope: env, SourceImageURL: req.SourceImageURL, Instruction: instruction}, nil

	case domain.JobTypePackage:
		if err := require("base_image_url", req.BaseImageURL); err != nil {
			return nil, err
		}
		return domain.PackageJob{Envelope: env, BaseImageURL: req.BaseImageURL, DisplayName: req.DisplayName}, nil
	}

	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownJobType, req.JobType)
}

package services

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/lborres/templatex/core"
)

func decodeProfile(doc core.Document) (core.UserProfile, error) {
	p := core.UserProfile{
		ID:          doc.ID,
		DisplayName: stringField(doc.Data, core.FieldDisplayName),
		Email:       stringField(doc.Data, core.FieldEmail),
	}

	var err error
	if p.CreatedAt, err = timeField(doc.Data, core.FieldCreatedAt); err != nil {
		return p, err
	}
	if p.Rating, err = floatField(doc.Data, core.FieldRating); err != nil {
		return p, err
	}
	if p.Rating < 0 {
		return p, fmt.Errorf("field %s: negative rating %v", core.FieldRating, p.Rating)
	}
	rc, err := floatField(doc.Data, core.FieldReviewCount)
	if err != nil {
		return p, err
	}
	if rc < 0 || rc != math.Trunc(rc) {
		return p, fmt.Errorf("field %s: invalid count %v", core.FieldReviewCount, rc)
	}
	p.ReviewCount = int(rc)

	if url := stringField(doc.Data, core.FieldPhotoURL); url != "" {
		p.PhotoURL = &url
	}
	return p, nil
}

func decodeListing(doc core.Document) core.Listing {
	return core.Listing{
		ID:          doc.ID,
		Title:       stringField(doc.Data, core.FieldTitle),
		Price:       stringField(doc.Data, core.FieldPrice),
		ImageURL:    stringField(doc.Data, core.FieldImageURL),
		Description: stringField(doc.Data, core.FieldDescription),
		SellerID:    stringField(doc.Data, core.FieldSellerID),
	}
}

func decodeListings(docs []core.Document) ([]core.Listing, error) {
	out := make([]core.Listing, 0, len(docs))
	for _, d := range docs {
		out = append(out, decodeListing(d))
	}
	return out, nil
}

// decodeReviews returns reviews newest first.
func decodeReviews(docs []core.Document) ([]core.Review, error) {
	out := make([]core.Review, 0, len(docs))
	for _, d := range docs {
		ts, err := timeField(d.Data, core.FieldTimestamp)
		if err != nil {
			return nil, fmt.Errorf("review %s: %w", d.ID, err)
		}
		rating, err := floatField(d.Data, core.FieldRating)
		if err != nil {
			return nil, fmt.Errorf("review %s: %w", d.ID, err)
		}
		out = append(out, core.Review{
			ID:           d.ID,
			ReviewerID:   stringField(d.Data, core.FieldReviewerID),
			ReviewerName: stringField(d.Data, core.FieldReviewerName),
			ReviewedID:   stringField(d.Data, core.FieldReviewedID),
			Rating:       int(rating),
			Comment:      stringField(d.Data, core.FieldComment),
			Timestamp:    ts,
		})
	}
	slices.SortStableFunc(out, func(a, b core.Review) int {
		return cmp.Compare(b.Timestamp.UnixNano(), a.Timestamp.UnixNano())
	})
	return out, nil
}

func newProfileDoc(s *core.Session, displayName string, now time.Time) map[string]any {
	return map[string]any{
		core.FieldDisplayName: displayName,
		core.FieldEmail:       s.Email,
		core.FieldCreatedAt:   now.UTC().Format(time.RFC3339Nano),
		core.FieldRating:      0,
		core.FieldReviewCount: 0,
	}
}

func listingDoc(l core.Listing) map[string]any {
	return map[string]any{
		core.FieldTitle:       l.Title,
		core.FieldPrice:       l.Price,
		core.FieldImageURL:    l.ImageURL,
		core.FieldDescription: l.Description,
		core.FieldSellerID:    l.SellerID,
	}
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// floatField accepts every numeric shape a store may hand back. Absent is 0.
func floatField(data map[string]any, key string) (float64, error) {
	switch v := data[key].(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("field %s: unexpected type %T", key, v)
	}
}

// timeField accepts time.Time, RFC 3339 strings and unix milliseconds.
func timeField(data map[string]any, key string) (time.Time, error) {
	switch v := data[key].(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("field %s: %w", key, err)
		}
		return t, nil
	default:
		ms, err := floatField(data, key)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(int64(ms)).UTC(), nil
	}
}

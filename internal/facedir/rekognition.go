package facedir

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/your-org/gallery/internal/config"
)

// rekognitionAPI is the subset of the Rekognition client the adapter calls.
type rekognitionAPI interface {
	IndexFaces(ctx context.Context, in *rekognition.IndexFacesInput, opts ...func(*rekognition.Options)) (*rekognition.IndexFacesOutput, error)
	SearchFacesByImage(ctx context.Context, in *rekognition.SearchFacesByImageInput, opts ...func(*rekognition.Options)) (*rekognition.SearchFacesByImageOutput, error)
	CreateCollection(ctx context.Context, in *rekognition.CreateCollectionInput, opts ...func(*rekognition.Options)) (*rekognition.CreateCollectionOutput, error)
}

// Rekognition implements Directory on AWS Rekognition collections.
type Rekognition struct {
	client rekognitionAPI
}

func NewRekognition(ctx context.Context, cfg config.FaceDirectoryConfig) (*Rekognition, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := rekognition.NewFromConfig(awsCfg, func(o *rekognition.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Rekognition{client: client}, nil
}

// EnsureCollection creates the collection if it doesn't exist.
func (r *Rekognition) EnsureCollection(ctx context.Context, collection string) error {
	_, err := r.client.CreateCollection(ctx, &rekognition.CreateCollectionInput{
		CollectionId: aws.String(collection),
	})
	var exists *types.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	return nil
}

func (r *Rekognition) IndexFaces(ctx context.Context, collection string, image []byte, externalID string, maxFaces int) ([]string, error) {
	in := &rekognition.IndexFacesInput{
		CollectionId:  aws.String(collection),
		Image:         &types.Image{Bytes: image},
		MaxFaces:      aws.Int32(int32(maxFaces)),
		QualityFilter: types.QualityFilterAuto,
	}
	if externalID != "" {
		in.ExternalImageId = aws.String(SanitizeExternalID(externalID))
	}

	out, err := r.client.IndexFaces(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("index faces: %w", classify(err))
	}

	ids := make([]string, 0, len(out.FaceRecords))
	for _, rec := range out.FaceRecords {
		if rec.Face != nil && rec.Face.FaceId != nil {
			ids = append(ids, *rec.Face.FaceId)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNoFaceDetected
	}
	return ids, nil
}

func (r *Rekognition) SearchFaces(ctx context.Context, collection string, image []byte, threshold float64, maxResults int) ([]Candidate, error) {
	out, err := r.client.SearchFacesByImage(ctx, &rekognition.SearchFacesByImageInput{
		CollectionId:       aws.String(collection),
		Image:              &types.Image{Bytes: image},
		FaceMatchThreshold: aws.Float32(float32(threshold)),
		MaxFaces:           aws.Int32(int32(maxResults)),
	})
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", classify(err))
	}

	candidates := make([]Candidate, 0, len(out.FaceMatches))
	for _, m := range out.FaceMatches {
		if m.Face == nil || m.Face.FaceId == nil {
			continue
		}
		c := Candidate{FaceID: *m.Face.FaceId}
		if m.Similarity != nil {
			c.Similarity = float64(*m.Similarity)
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// classify maps Rekognition exceptions onto the package sentinels while
// keeping the original error in the chain.
func classify(err error) error {
	var (
		invalidParam *types.InvalidParameterException
		tooLarge     *types.ImageTooLargeException
		badFormat    *types.InvalidImageFormatException
		throughput   *types.ProvisionedThroughputExceededException
		throttling   *types.ThrottlingException
	)
	switch {
	case errors.As(err, &invalidParam):
		// Rekognition reports "no faces in the image" as an invalid parameter.
		if strings.Contains(strings.ToLower(invalidParam.ErrorMessage()), "face") {
			return errors.Join(ErrNoFaceDetected, err)
		}
		return errors.Join(ErrInvalidImage, err)
	case errors.As(err, &tooLarge):
		return errors.Join(ErrImageTooLarge, err)
	case errors.As(err, &badFormat):
		return errors.Join(ErrInvalidImage, err)
	case errors.As(err, &throughput), errors.As(err, &throttling):
		return errors.Join(ErrThrottled, err)
	}
	return err
}

var externalIDPattern = regexp.MustCompile(`[^a-zA-Z0-9_.\-:]`)

// SanitizeExternalID turns a storage key into a valid ExternalImageId.
func SanitizeExternalID(key string) string {
	id := strings.ReplaceAll(key, "/", ":")
	id = externalIDPattern.ReplaceAllString(id, "_")
	if len(id) > 255 {
		id = id[len(id)-255:]
	}
	return id
}

var _ Directory = (*Rekognition)(nil)

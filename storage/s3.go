package storage

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3Settings beschreibt einen S3-kompatiblen Speicher (z.B. Strato HiDrive, MinIO).
type S3Settings struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// ObjectStore ist der Teil der S3-API, den die Snapshot-Sicherung braucht.
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client erstellt einen S3-Client mit festem Endpoint und Path-Style-Adressierung.
func NewS3Client(ctx context.Context, st S3Settings) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(st.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(st.AccessKey, st.SecretKey, "")),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if st.Endpoint != "" {
			o.BaseEndpoint = aws.String(st.Endpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// UploadObject lädt data unter key hoch.
func UploadObject(ctx context.Context, client ObjectStore, bucket, key, contentType string, data []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

// RotateObjects behält die neuesten keep Objekte unter prefix und löscht den Rest.
// Gibt die gelöschten Keys zurück.
func RotateObjects(ctx context.Context, client ObjectStore, bucket, prefix string, keep int, logger *zap.Logger) ([]string, error) {
	var objects []types.Object
	var token *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		objects = append(objects, out.Contents...)
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}

	if len(objects) <= keep {
		logger.Info("No rotation needed", zap.Int("objects", len(objects)), zap.Int("keep", keep))
		return nil, nil
	}

	// Neueste zuerst; Keys tragen einen Zeitstempel, daher Key als Tiebreaker.
	sort.Slice(objects, func(i, j int) bool {
		ti, tj := aws.ToTime(objects[i].LastModified), aws.ToTime(objects[j].LastModified)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return strings.Compare(aws.ToString(objects[i].Key), aws.ToString(objects[j].Key)) > 0
	})

	var deleted []string
	for _, obj := range objects[keep:] {
		key := aws.ToString(obj.Key)
		logger.Info("Deleting old snapshot", zap.String("key", key))
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    obj.Key,
		}); err != nil {
			logger.Warn("Could not delete snapshot", zap.String("key", key), zap.Error(err))
			continue
		}
		deleted = append(deleted, key)
	}
	return deleted, nil
}

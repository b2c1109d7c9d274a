package ngprecomputed

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/janelia-flyem/go/semver"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/storage"
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		mipvol.Errorf("Unable to make semver in ngprecomputed: %v\n", err)
	}
	storage.RegisterEngine(Engine{"ngprecomputed", "Neuroglancer precomputed over gocloud.dev buckets", ver})
	storage.RegisterEngine(MinioEngine{Engine{"ngprecomputed-minio", "Neuroglancer precomputed over MinIO/S3-compatible buckets", ver}})
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewStore opens a bucket.  The config must contain a "ref" URL, e.g.,
// "gs://bucket/dir", "s3://bucket?region=us-east-1", "file:///data/vols" or "mem://".
func (e Engine) NewStore(config storage.Config) (storage.Store, error) {
	ref, found, err := config.GetString("ref")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%q must be specified for %s configuration", "ref", e.name)
	}
	opts, err := parseOptions(config)
	if err != nil {
		return nil, err
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme == "file" {
		if err := os.MkdirAll(u.Path, 0755); err != nil {
			return nil, fmt.Errorf("can't create store directory %q: %v", u.Path, err)
		}
	}
	mipvol.Infof("Trying to open NG-Precomputed store @ %q ...\n", ref)
	return OpenBucket(context.Background(), ref, opts)
}

// MinioEngine opens stores through a MinIO client.
type MinioEngine struct {
	Engine
}

// NewStore connects to a MinIO endpoint.  Settings: "endpoint", "bucket", and
// optionally "prefix", "access_key", "secret_key", "secure".
func (e MinioEngine) NewStore(config storage.Config) (storage.Store, error) {
	settings := make(map[string]string)
	for _, key := range []string{"endpoint", "bucket", "prefix", "access_key", "secret_key"} {
		s, found, err := config.GetString(key)
		if err != nil {
			return nil, err
		}
		if !found && (key == "endpoint" || key == "bucket") {
			return nil, fmt.Errorf("%q must be specified for %s configuration", key, e.name)
		}
		settings[key] = s
	}
	secure, _, err := config.GetBool("secure")
	if err != nil {
		return nil, err
	}
	opts, err := parseOptions(config)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(settings["endpoint"], &minio.Options{
		Creds:  credentials.NewStaticV4(settings["access_key"], settings["secret_key"], ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("can't create minio client for %q: %v", settings["endpoint"], err)
	}
	return NewMinioStore(client, settings["bucket"], settings["prefix"], opts), nil
}

func parseOptions(config storage.Config) (opts Options, err error) {
	if opts.Gzip, _, err = config.GetBool("gzip"); err != nil {
		return
	}
	var rps int
	if rps, _, err = config.GetInt("requests_per_sec"); err != nil {
		return
	}
	opts.RequestsPerSec = float64(rps)
	opts.Burst, _, err = config.GetInt("burst")
	return
}

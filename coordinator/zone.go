// Package coordinator implements the provisioning and placement glue
// the host uses to discover and grow/shrink the helper pool: cloud
// availability-zone discovery, spot/preemption interruption signals,
// Kubernetes-backed pool scaling behind the Provisioner interface the
// host drives as an ordinary runner, and a raw-SSH fallback that starts
// a fixed host list outside that interface.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package coordinator

import (
	"context"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/uba-build/uba/cmn/nlog"
)

// CloudProvider identifies which metadata service ZoneOf should query.
type CloudProvider int

const (
	ProviderNone CloudProvider = iota
	ProviderAWS
	ProviderGCP
)

// ZoneOf returns the availability zone of the current instance, trying
// the named provider's metadata endpoint; callers fall back to a
// statically configured zone when the lookup fails (bare-metal/Horde).
func ZoneOf(ctx context.Context, provider CloudProvider) (string, error) {
	switch provider {
	case ProviderAWS:
		return awsZone(ctx)
	case ProviderGCP:
		return gcpZone(ctx)
	default:
		return "", nil
	}
}

// awsZone uses the IMDSv2 token-protected endpoint via the SDK's
// ec2metadata client rather than hand-rolling the token dance.
func awsZone(ctx context.Context) (string, error) {
	sess, err := session.NewSession()
	if err != nil {
		return "", err
	}
	client := ec2metadata.New(sess)
	doc, err := client.GetInstanceIdentityDocumentWithContext(ctx)
	if err != nil {
		return "", err
	}
	return doc.AvailabilityZone, nil
}

// gcpZone asks metadata.google.internal for the zone attribute, which
// comes back as "projects/<num>/zones/<zone>"; only the trailing
// segment is the part callers want.
func gcpZone(ctx context.Context) (string, error) {
	client := metadata.NewClient(nil)
	zonePath, err := client.ZoneWithContext(ctx)
	if err != nil {
		return "", err
	}
	return lastSegment(zonePath), nil
}

func lastSegment(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return s[i+1:]
		}
	}
	return s
}

// DetectProvider probes the GCP metadata endpoint, then the AWS one,
// within one short timeout, and returns the first that answers; used at startup when the
// operator hasn't pinned -zone explicitly.
func DetectProvider() CloudProvider {
	ctx, cancel := context.WithTimeout(context.Background(), 750*time.Millisecond)
	defer cancel()
	if metadata.NewClient(nil).OnGCEWithContext(ctx) {
		return ProviderGCP
	}
	if _, err := awsZone(ctx); err == nil {
		return ProviderAWS
	}
	nlog.Infoln("coordinator: no cloud metadata service reachable, assuming bare-metal/Horde")
	return ProviderNone
}

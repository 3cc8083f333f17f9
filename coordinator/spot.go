package coordinator

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/uba-build/uba/cmn/cos"
	"github.com/uba-build/uba/cmn/nlog"
)

// InterruptWatcher polls the cloud-specific termination-notice endpoint
// and calls onInterrupt once a notice is seen, giving the host time to
// drain in-flight work off a helper before the instance disappears.
// It implements cos.Runner so it slots into the same rungroup as every
// other background worker.
type InterruptWatcher struct {
	provider    CloudProvider
	interval    time.Duration
	onInterrupt func(reason string)
	stopCh      cos.StopCh
}

func NewInterruptWatcher(provider CloudProvider, interval time.Duration, onInterrupt func(reason string)) *InterruptWatcher {
	w := &InterruptWatcher{provider: provider, interval: cos.ClampDuration(interval, time.Second, time.Minute), onInterrupt: onInterrupt}
	w.stopCh.Init()
	return w
}

func (w *InterruptWatcher) Name() string { return "interrupt-watcher" }

func (w *InterruptWatcher) Run() error {
	if w.provider == ProviderNone {
		<-w.stopCh.Listen()
		return nil
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh.Listen():
			return nil
		case <-ticker.C:
			if reason, notified := w.poll(); notified {
				w.onInterrupt(reason)
				return nil
			}
		}
	}
}

func (w *InterruptWatcher) Stop(error) { w.stopCh.Close() }

func (w *InterruptWatcher) poll() (reason string, notified bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	switch w.provider {
	case ProviderAWS:
		return pollAWSSpotNotice(ctx)
	case ProviderGCP:
		return pollGCPPreemption(ctx)
	}
	return "", false
}

const (
	awsTokenURL      = "http://169.254.169.254/latest/api/token"
	awsSpotActionURL = "http://169.254.169.254/latest/meta-data/spot/instance-action"
	awsRebalanceURL  = "http://169.254.169.254/latest/meta-data/events/recommendations/rebalance"
	gcpPreemptedURL  = "http://metadata.google.internal/computeMetadata/v1/instance/preempted"
)

// pollAWSSpotNotice fetches a v2 session token, then checks both the
// two-minute spot termination notice and the rebalance-recommendation
// signal; either one means "move work off this instance soon". Uses
// fasthttp rather than net/http since this poll fires every tick for
// the life of the helper and fasthttp's pooled request/response
// objects avoid a fresh allocation each time.
func pollAWSSpotNotice(ctx context.Context) (string, bool) {
	token, err := awsIMDSToken(ctx)
	if err != nil {
		return "", false
	}
	if body, ok := getWithToken(ctx, awsSpotActionURL, token); ok {
		nlog.Warningln("coordinator: spot termination notice received:", body)
		return "spot-termination", true
	}
	if _, ok := getWithToken(ctx, awsRebalanceURL, token); ok {
		nlog.Warningln("coordinator: spot rebalance recommendation received")
		return "spot-rebalance", true
	}
	return "", false
}

func timeoutFrom(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return 2 * time.Second
}

func awsIMDSToken(ctx context.Context) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(awsTokenURL)
	req.Header.SetMethod(fasthttp.MethodPut)
	req.Header.Set("X-aws-ec2-metadata-token-ttl-seconds", "60")
	if err := fasthttp.DoTimeout(req, resp, timeoutFrom(ctx)); err != nil {
		return "", err
	}
	return string(resp.Body()), nil
}

func getWithToken(ctx context.Context, url, token string) (string, bool) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.Set("X-aws-ec2-metadata-token", token)
	if err := fasthttp.DoTimeout(req, resp, timeoutFrom(ctx)); err != nil {
		return "", false
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", false
	}
	return string(resp.Body()), true
}

func pollGCPPreemption(ctx context.Context) (string, bool) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(gcpPreemptedURL)
	req.Header.Set("Metadata-Flavor", "Google")
	if err := fasthttp.DoTimeout(req, resp, timeoutFrom(ctx)); err != nil {
		return "", false
	}
	if string(resp.Body()) == "TRUE" {
		return "gcp-preempted", true
	}
	return "", false
}

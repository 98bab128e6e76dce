package leshan

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// streamStep scripts one Stream call: either an error or a body.
// A body is followed by a read that blocks until the stream is cancelled.
type streamStep struct {
	body string
	err  error
	eof  bool
}

// fakeStreamer returns scripted streams and records the paths opened.
type fakeStreamer struct {
	mu     sync.Mutex
	steps  []streamStep
	paths  []string
	opened chan string
}

func newFakeStreamer(steps ...streamStep) *fakeStreamer {
	return &fakeStreamer{steps: steps, opened: make(chan string, 64)}
}

func (f *fakeStreamer) Stream(ctx context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	i := len(f.paths)
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	f.opened <- path

	step := streamStep{}
	if i < len(f.steps) {
		step = f.steps[i]
	}
	if step.err != nil {
		return nil, step.err
	}
	if step.eof {
		return io.NopCloser(strings.NewReader(step.body)), nil
	}
	return io.NopCloser(io.MultiReader(strings.NewReader(step.body), blockingReader{ctx})), nil
}

func (f *fakeStreamer) openedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *fakeStreamer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}

type blockingReader struct{ ctx context.Context }

func (b blockingReader) Read([]byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

// fakeRequester records requests and answers with a fixed error.
type fakeRequester struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRequester) Request(_ context.Context, method, path string, _ any) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method+" "+path)
	if f.err != nil {
		return nil, f.err
	}
	return &Response{StatusCode: 200, ContentType: "application/json", Body: []byte(`{"status":"CONTENT"}`)}, nil
}

func (f *fakeRequester) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// recordingAfter counts backoff waits and never fires unless release is
// closed.
type recordingAfter struct {
	mu      sync.Mutex
	waits   []time.Duration
	release chan time.Time
}

func newRecordingAfter() *recordingAfter {
	return &recordingAfter{release: make(chan time.Time)}
}

func (r *recordingAfter) after(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return r.release
}

func (r *recordingAfter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waits)
}

func notificationEvent(endpoint, res, valueJSON string) string {
	return "event: NOTIFICATION\ndata: {\"ep\":\"" + endpoint + "\",\"res\":\"" + res + "\",\"val\":" + valueJSON + "}\n\n"
}

func testDevice(endpoint string) Device {
	return Device{
		Endpoint:        endpoint,
		RegistrationID:  "reg-" + endpoint,
		ObjectInstances: []ObjectInstance{{ObjectID: 3, InstanceID: 0}},
	}
}

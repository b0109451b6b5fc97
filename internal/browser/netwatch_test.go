package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var loginPost = ResponseMatcher{
	Name:         "login post",
	PathContains: "index.aspx",
	Method:       "POST",
}

func TestMatcher(t *testing.T) {
	cases := []struct {
		matcher  ResponseMatcher
		response Response
		expected bool
	}{
		{
			matcher:  loginPost,
			response: Response{URL: "https://columbus.permitinfo.net/Index.aspx", Method: "post", Status: 302},
			expected: true,
		},
		{
			matcher:  loginPost,
			response: Response{URL: "https://columbus.permitinfo.net/index.aspx", Method: "GET", Status: 200},
			expected: false,
		},
		{
			matcher:  ResponseMatcher{PathContains: "index.aspx", Status: 200},
			response: Response{URL: "https://columbus.permitinfo.net/index.aspx?x=1", Method: "POST", Status: 500},
			expected: false,
		},
		{
			matcher:  ResponseMatcher{PathContains: "index.aspx", BodyContains: "selected"},
			response: Response{URL: "https://columbus.permitinfo.net/index.aspx", Body: `<tr class="selected">`},
			expected: true,
		},
		{
			matcher:  ResponseMatcher{PathContains: "index.aspx", BodyContains: "selected"},
			response: Response{URL: "https://columbus.permitinfo.net/index.aspx", Body: `<tr>`},
			expected: false,
		},
		{
			matcher:  ResponseMatcher{PathIn: []string{"/", "/index.aspx"}, Document: true},
			response: Response{URL: "https://columbus.permitinfo.net/", Document: true},
			expected: true,
		},
		{
			matcher:  ResponseMatcher{PathIn: []string{"/", "/index.aspx"}, Document: true},
			response: Response{URL: "https://columbus.permitinfo.net", Document: true},
			expected: true,
		},
		{
			matcher:  ResponseMatcher{PathIn: []string{"/", "/index.aspx"}, Document: true},
			response: Response{URL: "https://columbus.permitinfo.net/Secure/PermitDetail.aspx", Document: true},
			expected: false,
		},
	}

	for _, test := range cases {
		require.Equal(t, test.expected, test.matcher.Match(test.response), "%s vs %+v", test.matcher, test.response)
	}
}

func TestObserveBeforeAction(t *testing.T) {
	w := NewWatcher()
	obs := w.Observe(loginPost)

	// the response arrives before anybody calls Wait, it must not be lost
	w.RequestStarted("1", "POST", "https://columbus.permitinfo.net/index.aspx")
	w.ResponseReceived(Response{RequestID: "1", URL: "https://columbus.permitinfo.net/index.aspx", Status: 302})

	res, err := obs.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "POST", res.Method)
	require.Equal(t, 302, res.Status)
}

func TestObserveFirstMatchWins(t *testing.T) {
	w := NewWatcher()
	obs := w.Observe(ResponseMatcher{PathContains: "index.aspx"})

	w.ResponseReceived(Response{RequestID: "1", URL: "https://x/other.css", Status: 200})
	w.ResponseReceived(Response{RequestID: "2", URL: "https://x/index.aspx", Status: 200})
	w.ResponseReceived(Response{RequestID: "3", URL: "https://x/index.aspx", Status: 500})

	res, err := obs.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "2", res.RequestID)
}

func TestObserveTimeout(t *testing.T) {
	w := NewWatcher()
	obs := w.Observe(loginPost)

	w.ResponseReceived(Response{RequestID: "1", URL: "https://x/index.aspx", Method: "GET", Status: 200})

	_, err := obs.Wait(context.Background(), 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.Contains(t, err.Error(), "login post")
}

func TestObserveContextCancelled(t *testing.T) {
	w := NewWatcher()
	obs := w.Observe(loginPost)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := obs.Wait(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.Is(err, ErrTimeout))
}

func TestObserveBody(t *testing.T) {
	w := NewWatcher()
	obs := w.Observe(ResponseMatcher{PathContains: "index.aspx", BodyContains: "selected"})

	w.RequestStarted("1", "POST", "https://x/index.aspx")
	w.ResponseReceived(Response{RequestID: "1", URL: "https://x/index.aspx", Status: 200})
	w.RequestFinished("1", func() (string, error) {
		return "nothing to see", nil
	})

	w.RequestStarted("2", "POST", "https://x/index.aspx")
	w.ResponseReceived(Response{RequestID: "2", URL: "https://x/index.aspx", Status: 200})
	w.RequestFinished("2", func() (string, error) {
		return `<tr class="selected"><td>XYZ789</td></tr>`, nil
	})

	res, err := obs.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "2", res.RequestID)
	require.Contains(t, res.Body, "XYZ789")
}

func TestObserveBodyNotFetchedWithoutObserver(t *testing.T) {
	w := NewWatcher()
	w.RequestStarted("1", "GET", "https://x/index.aspx")
	w.ResponseReceived(Response{RequestID: "1", URL: "https://x/index.aspx", Status: 200})
	w.RequestFinished("1", func() (string, error) {
		t.Error("body should not be fetched when nobody is waiting on it")
		return "", nil
	})
	require.Equal(t, 0, w.Inflight())
}

func TestCancelledObserverIgnored(t *testing.T) {
	w := NewWatcher()
	obs := w.Observe(loginPost)
	obs.Cancel()

	w.ResponseReceived(Response{RequestID: "1", URL: "https://x/index.aspx", Method: "POST"})
	select {
	case <-obs.result:
		t.Fatal("cancelled observer should not resolve")
	default:
	}
}

func TestWaitIdle(t *testing.T) {
	w := NewWatcher()
	w.poll = time.Millisecond

	w.RequestStarted("1", "GET", "https://x/a")
	w.RequestStarted("2", "GET", "https://x/b")

	go func() {
		time.Sleep(10 * time.Millisecond)
		w.RequestFinished("1", nil)
		time.Sleep(10 * time.Millisecond)
		w.RequestFailed("2")
	}()

	start := time.Now()
	err := w.WaitIdle(context.Background(), 20*time.Millisecond, time.Second)
	require.NoError(t, err)
	// both requests finished ~20ms in, then the window has to pass
	require.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
	require.Equal(t, 0, w.Inflight())
}

func TestWaitIdleTimeout(t *testing.T) {
	w := NewWatcher()
	w.poll = time.Millisecond
	w.RequestStarted("1", "GET", "https://x/long-poll")

	err := w.WaitIdle(context.Background(), 5*time.Millisecond, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.Contains(t, err.Error(), "1 in flight")
}

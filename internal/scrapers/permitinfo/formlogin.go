package permitinfo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"permitinfo-backend/internal/components/telemetry"
	"permitinfo-backend/pkg/htmlutil"
	"permitinfo-backend/pkg/restyutil"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const report_formlogin_check = "formlogin.check"

var errStillOnLoginForm = errors.New("the portal showed the login form again")

// FormLogin checks credentials against the portal with plain form posts, no
// browser involved. It is much cheaper than a Session but cannot do anything
// past logging in.
type FormLogin struct {
	baseUrl string
	limiter *rate.Limiter
	dump    restyutil.Output
	tel     telemetry.API
}

// NewFormLogin creates a FormLogin, `dump` receives every http message when
// it is not nil.
func NewFormLogin(baseUrl string, dump restyutil.Output, tel telemetry.API) FormLogin {
	if baseUrl == "" {
		baseUrl = DefaultBaseUrl
	}
	return FormLogin{
		baseUrl: strings.TrimSuffix(baseUrl, "/"),
		// 2 requests max per second
		// max burst >= 2 just means that no requests will be dropped
		limiter: rate.NewLimiter(2, 2),
		dump:    dump,
		tel:     telemetry.NewScopedAPI("permitinfo", tel),
	}
}

// newClient creates a client with a fresh cookie jar, the portal ties the
// view state to the session cookie so every check needs its own.
func (f FormLogin) newClient() (*resty.Client, error) {
	client := resty.New()
	client.SetTimeout(time.Minute)
	client.SetBaseURL(f.baseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	// a successful login is a redirect, following it would hide that
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return f.limiter.Wait(req.Context())
	})
	telemetry.InstrumentResty(client, f.tel)
	restyutil.DumpMessages(client, "formlogin", f.dump)
	return client, nil
}

func (f FormLogin) authError(reason string, err error) error {
	f.tel.ReportWarning(report_formlogin_check, reason, err)
	return &AuthError{Reason: reason, Err: err}
}

// Check logs in with a form post the way the portal's own login page does. A
// redirect in response to the post means the credentials were accepted.
func (f FormLogin) Check(ctx context.Context, creds Credentials) error {
	ctx, span := tracer.Start(ctx, "permitinfo.form-login")
	defer span.End()

	if creds.Username == "" || creds.Password == "" {
		return &AuthError{Reason: "missing credentials"}
	}

	client, err := f.newClient()
	if err != nil {
		return err
	}

	res, err := client.R().
		SetContext(ctx).
		Get("/index.aspx")
	if err != nil {
		return f.authError("fetch login page", err)
	}
	if res.StatusCode() != http.StatusOK {
		return f.authError("fetch login page", fmt.Errorf("unexpected status %s", res.Status()))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return f.authError("parse login page", err)
	}
	viewState, ok := doc.Find("#__VIEWSTATE").Attr("value")
	if !ok {
		return f.authError("parse login page", errors.New("no __VIEWSTATE"))
	}
	eventValidation := doc.Find("#__EVENTVALIDATION").AttrOr("value", "")

	res, err = client.R().
		SetContext(ctx).
		SetHeader("Referer", f.baseUrl+"/index.aspx").
		SetFormData(map[string]string{
			"__EVENTTARGET":                 "Menu1$LoginLink",
			"__EVENTARGUMENT":               "",
			"__VIEWSTATE":                   viewState,
			"__EVENTVALIDATION":             eventValidation,
			"ctl00$MainContent$txtUsername": creds.Username,
			"ctl00$MainContent$txtPassword": creds.Password,
			"ctl00$MainContent$btnLogin":    "Login",
		}).
		Post("/index.aspx")
	if err != nil {
		return f.authError("post login form", err)
	}

	status := res.StatusCode()
	switch {
	case status >= 300 && status < 400:
		f.tel.ReportDebug(report_formlogin_check, "redirected", res.Header().Get("Location"))
		return nil
	case status == http.StatusOK:
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
		if err != nil {
			return f.authError("parse login response", err)
		}
		if doc.Find(usernameField).Length() == 0 {
			return nil
		}
		message := htmlutil.SelectionText(doc.Find("#MainContent_lblError"))
		if message != "" {
			return f.authError("credentials rejected", fmt.Errorf("%w: %s", errStillOnLoginForm, message))
		}
		return f.authError("credentials rejected", errStillOnLoginForm)
	default:
		return f.authError("post login form", fmt.Errorf("unexpected status %s", res.Status()))
	}
}

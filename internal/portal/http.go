package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmrobles/citawatch/internal/watch/domain"
)

// DefaultBaseURL is the production portal endpoint.
const DefaultBaseURL = "https://ais.usvisa-info.com"

const sessionCookieName = "_yatri_session"

// successPatterns appear in the response body of a confirmed reschedule.
var successPatterns = []string{
	"Successfully Scheduled",
	"Usted ha programado exitosamente su cita de visa",
}

// slotTakenPatterns appear when the chosen slot was booked by someone else
// between fetch and submit.
var slotTakenPatterns = []string{
	"no longer available",
	"ya no está disponible",
}

var (
	authenticityTokenRe = regexp.MustCompile(`name="authenticity_token"[^>]*value="([^"]+)"`)
	hiddenInputRe       = map[string]*regexp.Regexp{
		"confirmed_limit_message":            regexp.MustCompile(`name="confirmed_limit_message"[^>]*value="([^"]*)"`),
		"use_consulate_appointment_capacity": regexp.MustCompile(`name="use_consulate_appointment_capacity"[^>]*value="([^"]*)"`),
	}
	currentDateRe = regexp.MustCompile(`consulate_appointment\]\[date\]"[^>]*value="(\d{4}-\d{2}-\d{2})"`)
	currentTimeRe = regexp.MustCompile(`consulate_appointment\]\[time\]"[^>]*value="(\d{2}:\d{2})"`)
)

// HTTPClientConfig configures the portal HTTP client.
type HTTPClientConfig struct {
	// BaseURL overrides the portal endpoint (tests point it at a local
	// server). Defaults to DefaultBaseURL.
	BaseURL    string
	ScheduleID string
	Facility   Facility
	// Timeout bounds every portal call.
	Timeout time.Duration
	// SessionTTL is the estimated lifetime of a portal session.
	SessionTTL time.Duration
	UserAgent  string
}

// HTTPClient implements Client against the real appointment portal.
type HTTPClient struct {
	cfg    HTTPClientConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPClient creates a portal client with its own cookie jar.
func NewHTTPClient(cfg HTTPClientConfig, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.ScheduleID == "" {
		return nil, fmt.Errorf("portal: schedule ID is required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("portal: cookie jar: %w", err)
	}

	return &HTTPClient{
		cfg: cfg,
		client: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

func (c *HTTPClient) nivURL(path string) string {
	return fmt.Sprintf("%s/%s/niv/%s", c.cfg.BaseURL, c.cfg.Facility.Locale, path)
}

func (c *HTTPClient) appointmentURL() string {
	return c.nivURL(fmt.Sprintf("schedule/%s/appointment", c.cfg.ScheduleID))
}

// Login fetches the sign-in page for its CSRF token, posts the
// credentials, and returns the resulting session.
func (c *HTTPClient) Login(ctx context.Context, creds Credentials) (*domain.Session, error) {
	page, err := c.get(ctx, c.nivURL("users/sign_in"))
	if err != nil {
		return nil, fmt.Errorf("fetch sign-in page: %w", err)
	}

	token := firstMatch(authenticityTokenRe, page)
	if token == "" {
		return nil, fmt.Errorf("portal: sign-in page carried no CSRF token")
	}

	form := url.Values{
		"user[email]":      {creds.Username},
		"user[password]":   {creds.Password},
		"policy_confirmed": {"1"},
		"commit":           {"Sign In"},
	}

	body, err := c.postForm(ctx, c.nivURL("users/sign_in"), token, form)
	if err != nil {
		return nil, fmt.Errorf("post sign-in: %w", err)
	}

	if marker := c.cfg.Facility.WrongCredentialsMarker; marker != "" && strings.Contains(body, marker) {
		return nil, ErrAuth
	}

	cookie := c.sessionCookie()
	if cookie == "" {
		return nil, fmt.Errorf("portal: no session cookie after sign-in: %w", ErrAuth)
	}

	c.logger.Info("portal login succeeded", "embassy", c.cfg.Facility.Code)
	return domain.NewSession(cookie, time.Now(), c.cfg.SessionTTL), nil
}

// CurrentAppointment reads the booked consular appointment off the
// reschedule form, which pre-fills the current selection.
func (c *HTTPClient) CurrentAppointment(ctx context.Context, sess *domain.Session) (time.Time, error) {
	page, err := c.get(ctx, c.appointmentURL())
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch appointment page: %w", err)
	}

	dateStr := firstMatch(currentDateRe, page)
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("portal: appointment page carried no current date")
	}
	timeStr := firstMatch(currentTimeRe, page)
	if timeStr == "" {
		timeStr = "00:00"
	}

	at, err := time.Parse(domain.DateFormat+" "+domain.TimeFormat, dateStr+" "+timeStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse current appointment %q %q: %w", dateStr, timeStr, err)
	}
	return at, nil
}

// ListDates fetches the open consular dates. Only business days count.
func (c *HTTPClient) ListDates(ctx context.Context, sess *domain.Session, facilityID int) ([]domain.Slot, error) {
	u := c.nivURL(fmt.Sprintf("schedule/%s/appointment/days/%d.json", c.cfg.ScheduleID, facilityID)) +
		"?appointments[expedite]=false"
	return c.fetchDates(ctx, u, facilityID)
}

// ListTimes fetches the open times for a consular date.
func (c *HTTPClient) ListTimes(ctx context.Context, sess *domain.Session, facilityID int, date string) ([]string, error) {
	u := c.nivURL(fmt.Sprintf("schedule/%s/appointment/times/%d.json", c.cfg.ScheduleID, facilityID)) +
		"?date=" + url.QueryEscape(date) + "&appointments[expedite]=false"
	return c.fetchTimes(ctx, u)
}

// ListCASDates fetches open CAS dates anchored on the consular choice.
func (c *HTTPClient) ListCASDates(ctx context.Context, sess *domain.Session, facilityID int, anchor ConsularAnchor) ([]domain.Slot, error) {
	u := c.nivURL(fmt.Sprintf("schedule/%s/appointment/days/%d.json", c.cfg.ScheduleID, facilityID)) +
		"?consulate_id=" + fmt.Sprint(anchor.FacilityID) +
		"&consulate_date=" + url.QueryEscape(anchor.Date) +
		"&consulate_time=" + url.QueryEscape(anchor.Time) +
		"&appointments[expedite]=false"
	return c.fetchDates(ctx, u, facilityID)
}

// ListCASTimes fetches open CAS times for a CAS date.
func (c *HTTPClient) ListCASTimes(ctx context.Context, sess *domain.Session, facilityID int, date string, anchor ConsularAnchor) ([]string, error) {
	u := c.nivURL(fmt.Sprintf("schedule/%s/appointment/times/%d.json", c.cfg.ScheduleID, facilityID)) +
		"?date=" + url.QueryEscape(date) +
		"&consulate_id=" + fmt.Sprint(anchor.FacilityID) +
		"&consulate_date=" + url.QueryEscape(anchor.Date) +
		"&consulate_time=" + url.QueryEscape(anchor.Time) +
		"&appointments[expedite]=false"
	return c.fetchTimes(ctx, u)
}

// Submit posts the combined consular+CAS reschedule form.
func (c *HTTPClient) Submit(ctx context.Context, sess *domain.Session, req SubmitRequest) error {
	page, err := c.get(ctx, c.appointmentURL())
	if err != nil {
		return fmt.Errorf("fetch appointment form: %w", err)
	}

	token := firstMatch(authenticityTokenRe, page)
	if token == "" {
		return fmt.Errorf("portal: appointment form carried no CSRF token")
	}

	form := url.Values{
		"confirmed_limit_message":            {firstMatch(hiddenInputRe["confirmed_limit_message"], page)},
		"use_consulate_appointment_capacity": {firstMatch(hiddenInputRe["use_consulate_appointment_capacity"], page)},

		"appointments[consulate_appointment][facility_id]": {fmt.Sprint(req.Consular.FacilityID)},
		"appointments[consulate_appointment][date]":        {req.Consular.Date},
		"appointments[consulate_appointment][time]":        {req.Consular.Time},

		"appointments[asc_appointment][facility_id]": {fmt.Sprint(req.CAS.FacilityID)},
		"appointments[asc_appointment][date]":        {req.CAS.Date},
		"appointments[asc_appointment][time]":        {req.CAS.Time},
	}

	body, err := c.postForm(ctx, c.appointmentURL(), token, form)
	if err != nil {
		return fmt.Errorf("post reschedule: %w", err)
	}

	for _, pattern := range successPatterns {
		if strings.Contains(body, pattern) {
			return nil
		}
	}
	for _, pattern := range slotTakenPatterns {
		if strings.Contains(body, pattern) {
			return ErrSlotTaken
		}
	}
	return fmt.Errorf("portal: reschedule not confirmed")
}

// SignOut ends the portal session.
func (c *HTTPClient) SignOut(ctx context.Context, sess *domain.Session) error {
	if _, err := c.get(ctx, c.nivURL("users/sign_out")); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

func (c *HTTPClient) fetchDates(ctx context.Context, u string, facilityID int) ([]domain.Slot, error) {
	body, err := c.getJSON(ctx, u)
	if err != nil {
		return nil, err
	}

	var days []struct {
		Date        string `json:"date"`
		BusinessDay bool   `json:"business_day"`
	}
	if err := json.Unmarshal([]byte(body), &days); err != nil {
		return nil, fmt.Errorf("decode dates: %w", err)
	}

	slots := make([]domain.Slot, 0, len(days))
	for _, day := range days {
		if !day.BusinessDay {
			continue
		}
		slot, err := domain.NewSlot(day.Date, facilityID)
		if err != nil {
			c.logger.Warn("skipping malformed portal date", "date", day.Date, "error", err)
			continue
		}
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots, nil
}

func (c *HTTPClient) fetchTimes(ctx context.Context, u string) ([]string, error) {
	body, err := c.getJSON(ctx, u)
	if err != nil {
		return nil, err
	}

	var payload struct {
		AvailableTimes []string `json:"available_times"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("decode times: %w", err)
	}
	sort.Strings(payload.AvailableTimes)
	return payload.AvailableTimes, nil
}

func (c *HTTPClient) get(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	c.setCommonHeaders(req)
	return c.do(req)
}

func (c *HTTPClient) getJSON(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	c.setCommonHeaders(req)
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", c.appointmentURL())
	return c.do(req)
}

func (c *HTTPClient) postForm(ctx context.Context, u, csrfToken string, form url.Values) (string, error) {
	form.Set("authenticity_token", csrfToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	c.setCommonHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", u)
	return c.do(req)
}

func (c *HTTPClient) setCommonHeaders(req *http.Request) {
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
}

func (c *HTTPClient) do(req *http.Request) (string, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("portal request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read portal response: %w", err)
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		return "", err
	}
	return string(body), nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrSessionExpired
	case status == http.StatusForbidden, status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 400:
		return fmt.Errorf("portal returned %d", status)
	}
	return nil
}

func (c *HTTPClient) sessionCookie() string {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return ""
	}
	for _, cookie := range c.client.Jar.Cookies(base) {
		if cookie.Name == sessionCookieName {
			return cookie.Value
		}
	}
	return ""
}

func firstMatch(re *regexp.Regexp, body string) string {
	m := re.FindStringSubmatch(body)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/yashp387/DigitalDump-sub001/pkg/collectapi"
)

const usageText = `usage: collectctl <command> [flags] [args]

commands:
  create      create a pickup request (requester)
  list        list pickups visible to the caller
  get         show one pickup
  claim       accept a pending pickup (agent)
  complete    complete an accepted pickup (agent)
  cancel      cancel a pickup (requester or admin)
  proof       upload a proof photo for an accepted pickup (agent)
  location    report an agent location
  candidates  list claimable pickups near an agent
  route       plan the agent's accepted pickups
  agent       set an agent's status (admin)
  audit       list audit events (admin)
  health      check the API is reachable

environment: COLLECT_API_URL, COLLECT_TOKEN, COLLECT_ACTOR_ID, COLLECT_ACTOR_ROLE`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Body.Code == "pickup_taken" {
			color.New(color.FgYellow).Fprintln(os.Stderr, apiErr.Body.Error)
			os.Exit(2)
		}
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New(usageText)

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "create":
		return runCreate(rest, out)
	case "list":
		return runList(rest, out)
	case "get":
		return runGet(rest, out)
	case "claim", "complete", "cancel":
		return runTransition(cmd, rest, out)
	case "proof":
		return runProof(rest, out)
	case "location":
		return runLocation(rest, out)
	case "candidates":
		return runCandidates(rest, out)
	case "route":
		return runRoute(rest, out)
	case "agent":
		return runAgentStatus(rest, out)
	case "audit":
		return runAudit(rest, out)
	case "health":
		return runHealth(rest, out)
	default:
		return errUsage
	}
}

// newFlagSet registers the connection flags every command shares.
func newFlagSet(name string) (*flag.FlagSet, *client) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	c := &client{}
	fs.StringVar(&c.baseURL, "url", envOr("COLLECT_API_URL", "http://localhost:8080"), "API base URL")
	fs.StringVar(&c.token, "token", envOr("COLLECT_TOKEN", ""), "API token")
	fs.StringVar(&c.actorID, "as", envOr("COLLECT_ACTOR_ID", ""), "actor id when the server runs without tokens")
	fs.StringVar(&c.role, "role", envOr("COLLECT_ACTOR_ROLE", ""), "actor role when the server runs without tokens")
	return fs, c
}

func parseWithID(fs *flag.FlagSet, args []string, what string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() < 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return "", fmt.Errorf("%s: %s id is required", fs.Name(), what)
	}
	return strings.TrimSpace(fs.Arg(0)), nil
}

func runCreate(args []string, out io.Writer) error {
	fs, c := newFlagSet("create")
	var req collectapi.CreatePickupRequest
	fs.StringVar(&req.ContactName, "contact", "", "contact name")
	fs.StringVar(&req.ContactPhone, "phone", "", "contact phone")
	fs.StringVar(&req.Address, "address", "", "pickup address")
	fs.StringVar(&req.PickupAt, "at", "", "pickup time (RFC 3339)")
	fs.StringVar(&req.Category, "category", "", "item category")
	fs.StringVar(&req.Subtype, "subtype", "", "item subtype")
	fs.IntVar(&req.Quantity, "qty", 1, "item quantity")
	lat := fs.String("lat", "", "latitude")
	lng := fs.String("lng", "", "longitude")
	if err := fs.Parse(args); err != nil {
		return err
	}
	loc, err := parseLocation(*lat, *lng)
	if err != nil {
		return err
	}
	req.Location = loc
	var p collectapi.Pickup
	if err := c.postJSON("/v1/pickups", req, &p); err != nil {
		return err
	}
	printPickup(out, p)
	return nil
}

func runList(args []string, out io.Writer) error {
	fs, c := newFlagSet("list")
	status := fs.String("status", "", "filter by status")
	agent := fs.String("agent", "", "agent id (admin)")
	requester := fs.String("requester", "", "requester id (admin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q := url.Values{}
	setIf(q, "status", *status)
	setIf(q, "agent_id", *agent)
	setIf(q, "requester_id", *requester)
	var resp collectapi.ListPickupsResponse
	if err := c.get("/v1/pickups"+encodeQuery(q), &resp); err != nil {
		return err
	}
	for _, p := range resp.Pickups {
		printPickup(out, p)
	}
	fmt.Fprintf(out, "%d pickup(s)\n", resp.Returned)
	return nil
}

func runGet(args []string, out io.Writer) error {
	fs, c := newFlagSet("get")
	id, err := parseWithID(fs, args, "pickup")
	if err != nil {
		return err
	}
	var p collectapi.Pickup
	if err := c.get("/v1/pickups/"+url.PathEscape(id), &p); err != nil {
		return err
	}
	printPickup(out, p)
	return nil
}

func runTransition(op string, args []string, out io.Writer) error {
	fs, c := newFlagSet(op)
	proof := fs.String("proof", "", "proof URI (complete)")
	reason := fs.String("reason", "", "cancel reason (cancel)")
	id, err := parseWithID(fs, args, "pickup")
	if err != nil {
		return err
	}
	var body any
	switch op {
	case "complete":
		body = collectapi.CompletePickupRequest{ProofURI: *proof}
	case "cancel":
		body = collectapi.CancelPickupRequest{Reason: *reason}
	}
	var p collectapi.Pickup
	if err := c.postJSON("/v1/pickups/"+url.PathEscape(id)+"/"+op, body, &p); err != nil {
		return err
	}
	printPickup(out, p)
	return nil
}

func runProof(args []string, out io.Writer) error {
	fs, c := newFlagSet("proof")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("proof: usage: collectctl proof <pickup-id> <photo-file>")
	}
	id, path := fs.Arg(0), fs.Arg(1)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var resp collectapi.UploadProofResponse
	if err := c.do(http.MethodPut, "/v1/pickups/"+url.PathEscape(id)+"/proof", contentType, f, &resp); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s proof stored at %s\n", resp.RequestID, resp.ProofURI)
	return nil
}

func runLocation(args []string, out io.Writer) error {
	fs, c := newFlagSet("location")
	lat := fs.Float64("lat", 0, "latitude")
	lng := fs.Float64("lng", 0, "longitude")
	id, err := parseWithID(fs, args, "agent")
	if err != nil {
		return err
	}
	var agent collectapi.Agent
	if err := c.postJSON("/v1/agents/"+url.PathEscape(id)+"/location", collectapi.AgentLocationRequest{Lat: *lat, Lng: *lng}, &agent); err != nil {
		return err
	}
	printAgent(out, agent)
	return nil
}

func runAgentStatus(args []string, out io.Writer) error {
	fs, c := newFlagSet("agent")
	status := fs.String("status", "", "active or suspended")
	id, err := parseWithID(fs, args, "agent")
	if err != nil {
		return err
	}
	var agent collectapi.Agent
	if err := c.postJSON("/v1/agents/"+url.PathEscape(id)+"/status", collectapi.AgentStatusRequest{Status: *status}, &agent); err != nil {
		return err
	}
	printAgent(out, agent)
	return nil
}

func runCandidates(args []string, out io.Writer) error {
	fs, c := newFlagSet("candidates")
	lat := fs.String("lat", "", "origin latitude")
	lng := fs.String("lng", "", "origin longitude")
	id, err := parseWithID(fs, args, "agent")
	if err != nil {
		return err
	}
	q := url.Values{}
	setIf(q, "lat", *lat)
	setIf(q, "lng", *lng)
	var resp collectapi.CandidatesResponse
	if err := c.get("/v1/agents/"+url.PathEscape(id)+"/candidates"+encodeQuery(q), &resp); err != nil {
		return err
	}
	for _, cand := range resp.Candidates {
		dist := "-"
		if cand.DistanceKm != nil {
			dist = strconv.FormatFloat(*cand.DistanceKm, 'f', 1, 64) + " km"
		}
		fmt.Fprintf(out, "%-9s ", dist)
		printPickup(out, cand.Pickup)
	}
	fmt.Fprintf(out, "%d candidate(s)\n", resp.Returned)
	return nil
}

func runRoute(args []string, out io.Writer) error {
	fs, c := newFlagSet("route")
	lat := fs.String("lat", "", "origin latitude")
	lng := fs.String("lng", "", "origin longitude")
	id, err := parseWithID(fs, args, "agent")
	if err != nil {
		return err
	}
	q := url.Values{}
	setIf(q, "lat", *lat)
	setIf(q, "lng", *lng)
	var plan collectapi.RoutePlanResponse
	if err := c.get("/v1/agents/"+url.PathEscape(id)+"/route"+encodeQuery(q), &plan); err != nil {
		return err
	}
	if plan.NothingToOptimize {
		fmt.Fprintln(out, "nothing to optimize")
		return nil
	}
	for _, stop := range plan.Stops {
		fmt.Fprintf(out, "%2d  %.5f,%.5f  %s\n", stop.Sequence, stop.Location.Lat, stop.Location.Lng, strings.Join(stop.RequestIDs, ","))
	}
	if len(plan.Unrouted) > 0 {
		color.New(color.FgYellow).Fprintf(out, "unrouted (no location): %s\n", strings.Join(plan.Unrouted, ","))
	}
	fmt.Fprintf(out, "%.1f km, %.0f min\n", plan.DistanceMeters/1000, plan.DurationSeconds/60)
	return nil
}

func runAudit(args []string, out io.Writer) error {
	fs, c := newFlagSet("audit")
	action := fs.String("action", "", "filter by action")
	actor := fs.String("actor", "", "filter by actor")
	request := fs.String("request", "", "filter by pickup id")
	result := fs.String("result", "", "filter by result")
	limit := fs.Int("limit", 50, "maximum events")
	csvOut := fs.Bool("csv", false, "print CSV")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q := url.Values{}
	setIf(q, "action", *action)
	setIf(q, "actor", *actor)
	setIf(q, "request_id", *request)
	setIf(q, "result", *result)
	q.Set("limit", strconv.Itoa(*limit))
	if *csvOut {
		q.Set("format", "csv")
		return c.get("/v1/admin/audit"+encodeQuery(q), out)
	}
	var resp collectapi.ListAuditEventsResponse
	if err := c.get("/v1/admin/audit"+encodeQuery(q), &resp); err != nil {
		return err
	}
	for _, e := range resp.Events {
		res := e.Result
		if res == "ok" {
			res = color.GreenString(res)
		} else {
			res = color.RedString(res)
		}
		fmt.Fprintf(out, "%s  %-16s %-10s %-9s %s %s\n", e.CreatedAt, e.Action, e.Actor, res, e.RequestID, e.Details)
	}
	return nil
}

func runHealth(args []string, out io.Writer) error {
	fs, c := newFlagSet("health")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var body map[string]any
	if err := c.get("/healthz", &body); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(out, "ok: %s\n", strings.TrimRight(c.baseURL, "/")+"/healthz")
	return nil
}

func parseLocation(lat, lng string) (*collectapi.Location, error) {
	lat, lng = strings.TrimSpace(lat), strings.TrimSpace(lng)
	if lat == "" && lng == "" {
		return nil, nil
	}
	if lat == "" || lng == "" {
		return nil, fmt.Errorf("lat and lng must be given together")
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid lat %q", lat)
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid lng %q", lng)
	}
	return &collectapi.Location{Lat: la, Lng: ln}, nil
}

func setIf(q url.Values, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		q.Set(key, v)
	}
}

func encodeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func statusColor(status string) *color.Color {
	switch status {
	case "pending":
		return color.New(color.FgYellow)
	case "accepted":
		return color.New(color.FgCyan)
	case "completed":
		return color.New(color.FgGreen)
	case "cancelled":
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

func printPickup(out io.Writer, p collectapi.Pickup) {
	fmt.Fprintf(out, "%s  %s  %-12s %s", p.ID, statusColor(p.Status).Sprintf("%-9s", p.Status), p.Category, p.Address)
	if p.AssignedAgentID != "" {
		fmt.Fprintf(out, "  agent=%s", p.AssignedAgentID)
	}
	fmt.Fprintln(out)
}

func printAgent(out io.Writer, a collectapi.Agent) {
	st := color.New(color.FgGreen)
	if a.Status != "active" {
		st = color.New(color.FgRed)
	}
	fmt.Fprintf(out, "%s  %s", a.ID, st.Sprint(a.Status))
	if a.Location != nil {
		fmt.Fprintf(out, "  %.5f,%.5f", a.Location.Lat, a.Location.Lng)
	}
	if a.LastSeen != "" {
		fmt.Fprintf(out, "  seen %s", a.LastSeen)
	}
	fmt.Fprintln(out)
}

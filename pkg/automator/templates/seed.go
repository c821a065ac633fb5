// Package templates holds the built-in template catalogue seeded into a
// fresh store on first initialization (spec.md §7 "Built-in templates are
// seeded on first initialization if absent"). Their script bodies are
// opaque to the core (spec.md §1 Non-goals) — this package only needs to
// supply something runnable that exercises each paramsSchema shape; the
// actual automation logic a user would reach for is out of scope here.
package templates

import (
	"log/slog"
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/errs"
	"github.com/chaosslabs/personal-automator/pkg/automator/store"
)

// Builtins returns the seed catalogue. IDs and names are fixed across
// versions; editing an entry here only affects freshly-initialized stores,
// never ones that already seeded it (Seed is idempotent per-id).
func Builtins() []store.Template {
	return []store.Template{
		{
			ID:          "http-health-check",
			Name:        "HTTP Health Check",
			Description: "Requests a URL and fails the task if the response status is not 2xx.",
			Category:    "monitoring",
			Code: `const url = params.url;
const res = await fetch(url, { method: "GET" });
console.log("status", res.status);
if (res.status < 200 || res.status >= 300) {
  throw new Error("unexpected status " + res.status);
}
return { url, status: res.status };`,
			ParamsSchema: []store.ParamDecl{
				{Name: "url", Type: store.ParamString, Required: true, Description: "URL to request"},
			},
			RequiredCredentials: []string{},
			SuggestedSchedule:   "*/5 * * * *",
			IsBuiltin:           true,
		},
		{
			ID:          "disk-usage-report",
			Name:        "Disk Usage Report",
			Description: "Reports free space on a path, warning below a configurable threshold.",
			Category:    "maintenance",
			Code: `const fs = require("fs");
const path = params.path || "/";
const stats = fs.statfsSync(path);
const freeBytes = stats.bfree * stats.bsize;
const freeGB = freeBytes / (1024 * 1024 * 1024);
console.log("free space on", path, freeGB.toFixed(2), "GB");
const thresholdGB = params.thresholdGB || 5;
if (freeGB < thresholdGB) {
  console.warn("below threshold of", thresholdGB, "GB");
}
return { path, freeGB };`,
			ParamsSchema: []store.ParamDecl{
				{Name: "path", Type: store.ParamString, Required: false, Default: "/", Description: "filesystem path to inspect"},
				{Name: "thresholdGB", Type: store.ParamNumber, Required: false, Default: float64(5), Description: "warn below this many free GB"},
			},
			RequiredCredentials: []string{},
			SuggestedSchedule:   "0 * * * *",
			IsBuiltin:           true,
		},
		{
			ID:          "webhook-notify",
			Name:        "Webhook Notify",
			Description: "Posts a JSON payload to a webhook URL using a stored bearer token.",
			Category:    "notifications",
			Code: `const token = credentials["webhook_token"];
const res = await fetch(params.webhookUrl, {
  method: "POST",
  headers: { "content-type": "application/json", "authorization": "Bearer " + token },
  body: JSON.stringify({ message: params.message }),
});
console.log("webhook responded", res.status);
if (!res.ok) {
  throw new Error("webhook call failed with status " + res.status);
}
return { status: res.status };`,
			ParamsSchema: []store.ParamDecl{
				{Name: "webhookUrl", Type: store.ParamString, Required: true},
				{Name: "message", Type: store.ParamString, Required: true},
			},
			RequiredCredentials: []string{"webhook_token"},
			SuggestedSchedule:   "",
			IsBuiltin:           true,
		},
	}
}

// Seed inserts any builtin template not already present, by id. Existing
// rows (builtin or user-edited) are left untouched — builtin content is
// opaque and versionless, not reconciled on every boot.
func Seed(st *store.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, t := range Builtins() {
		if _, err := st.GetTemplate(t.ID); err == nil {
			continue
		} else if errs.KindOf(err) != errs.NotFound {
			return err
		}

		now := time.Now().UTC()
		t.CreatedAt, t.UpdatedAt = now, now
		if _, err := st.CreateTemplate(t); err != nil {
			return err
		}
		logger.Info("seeded builtin template", "id", t.ID, "name", t.Name)
	}
	return nil
}

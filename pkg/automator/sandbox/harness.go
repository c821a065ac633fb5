package sandbox

import (
	"encoding/json"
	"fmt"
)

// buildHarness wraps a task's script body in a small Node.js driver. The
// driver reads one JSON object from stdin ({params, credentials}), exposes
// it to the script as plain variables, and reports progress and the final
// result as newline-delimited JSON frames on stdout — a bespoke but minimal
// line protocol, since wiring a general RPC library for a single
// request/response pair per process would be pure overhead.
//
// Frame shapes:
//
//	{"type":"log","level":"log|info|warn|error","message":"..."}
//	{"type":"return","value":<any>}
//	{"type":"error","message":"..."}
func buildHarness(code string) (string, error) {
	encodedCode, err := json.Marshal(code)
	if err != nil {
		return "", fmt.Errorf("sandbox: encode script body: %w", err)
	}

	return fmt.Sprintf(harnessTemplate, string(encodedCode)), nil
}

const harnessTemplate = `
"use strict";
const fs = require("fs");

function emit(frame) {
  process.stdout.write(JSON.stringify(frame) + "\n");
}

function captureConsole(level) {
  return (...args) => {
    const message = args.map((a) => (typeof a === "string" ? a : JSON.stringify(a))).join(" ");
    emit({ type: "log", level, message });
  };
}

console.log = captureConsole("log");
console.info = captureConsole("info");
console.warn = captureConsole("warn");
console.error = captureConsole("error");

async function main() {
  const raw = fs.readFileSync(0, "utf8");
  let input;
  try {
    input = JSON.parse(raw || "{}");
  } catch (e) {
    emit({ type: "error", message: "invalid harness input: " + e.message });
    process.exit(1);
  }

  const params = input.params || {};
  const credentials = input.credentials || {};

  const body = %s;
  const task = new Function(
    "params",
    "credentials",
    "require",
    "return (async () => {\n" + body + "\n})();"
  );

  try {
    const value = await task(params, credentials, require);
    emit({ type: "return", value: value === undefined ? null : value });
    process.exit(0);
  } catch (e) {
    emit({ type: "error", message: e && e.stack ? e.stack : String(e) });
    process.exit(1);
  }
}

main();
`

package security

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/titanous/json5"
)

// Rule pairs a compiled pattern with the reason returned to the model
// when the pattern fires. The reason is part of the contract: the LLM
// reads it as a tool observation and plans around it.
type Rule struct {
	Pattern *regexp.Regexp
	Reason  string
}

// Set holds one process-visible snapshot of every pattern list.
// A Set is immutable after construction; the Library swaps whole
// snapshots on reload so classification never sees a half-built list.
type Set struct {
	Blocked        []Rule
	Dangerous      []Rule
	Injection      []*regexp.Regexp
	SensitiveFiles []*regexp.Regexp
	DangerousCode  []Rule
	Secrets        []SecretRule
	BlockedURLs    []*regexp.Regexp
}

// SecretRule describes one secret-value shape and how to redact it.
// KeepPrefix leaves the first four characters visible for raw key
// shapes; KeyValue redacts only the value side of NAME=value.
type SecretRule struct {
	Pattern    *regexp.Regexp
	KeepPrefix bool
	KeyValue   bool
}

func mustRule(expr, reason string) Rule {
	return Rule{Pattern: regexp.MustCompile(expr), Reason: reason}
}

// Blocked commands never run and never prompt. Order matters: the first
// matching rule wins, and blocked is always evaluated before dangerous,
// so an overlap like `sudo` resolves to blocked.
var defaultBlocked = []Rule{
	// ── Environment variable dumping ──
	// Bare env/printenv/set dumps every var including operator secrets.
	// 'env VAR=val cmd' (assignment before a command) stays allowed.
	mustRule(`^\s*env\s*($|[|>;&])`, "Leaks all environment variables including API keys and tokens"),
	mustRule(`\bprintenv\b`, "Leaks all environment variables including API keys and tokens"),
	mustRule(`^\s*(set|export\s+-p|declare\s+-x)\s*($|[|>])`, "Dumps shell variables including secrets"),
	mustRule(`\bcompgen\s+-e\b`, "Enumerates environment variable names"),
	mustRule(`\bcat\s+/proc/(self|\d+)/environ\b`, "Reads process environment from procfs"),

	// ── Sensitive file reads ──
	mustRule(`\b(cat|head|tail|less|more|grep|strings|xxd|od|vi|vim|nano)\b[^|;&]*\.env\b`, "Reads environment secrets file"),
	mustRule(`\b(cat|head|tail|less|more|grep|strings)\b[^|;&]*(credentials|secrets)[^|;&]*`, "Reads a credentials file"),
	mustRule(`/etc/(passwd|shadow|sudoers)`, "Reads host account database"),
	mustRule(`~?/?\.ssh/`, "Accesses SSH key material"),
	mustRule(`\bid_(rsa|ed25519|ecdsa|dsa)\b`, "Accesses SSH private key"),
	mustRule(`/run/secrets`, "Accesses container secret mounts"),
	mustRule(`/var/run/docker\.sock|docker\.(sock|socket)`, "Accesses the Docker control socket"),

	// ── Exfiltration ──
	mustRule(`\bcurl\b[^|;&]*(-d\b|-F\b|--data|--upload-file|--form|-T\b|-X\s*P(UT|OST|ATCH))`, "Uploads data to an external host"),
	mustRule(`\bwget\b.*--post-(data|file)`, "Uploads data to an external host"),
	mustRule(`\b(nslookup|dig|host)\b.*\$`, "DNS exfiltration via computed hostnames"),
	mustRule(`/dev/tcp/`, "Raw TCP redirect for exfiltration or reverse shell"),
	mustRule(`169\.254\.169\.254|metadata\.google\.internal|\bimds\b`, "Queries cloud metadata endpoint"),

	// ── Encoded output of secrets ──
	// Encoders in output position defeat the plain-text redactor, so any
	// pipe into an encoder is refused outright.
	mustRule(`\|\s*base64\b(?:\s+(-w\s*\d+|--wrap[= ]\d+))*\s*($|[|>])`, "Encodes output with base64 to evade secret redaction"),
	mustRule(`\|\s*(xxd|od|hexdump)\b`, "Encodes output as hex to evade secret redaction"),
	mustRule(`\bbase64\b[^|;&]*\.env\b`, "Encodes a secrets file"),

	// ── Privilege escalation ──
	mustRule(`\bsudo\b`, "Privilege escalation is not available in the sandbox"),
	mustRule(`\bsu\s+-`, "Privilege escalation is not available in the sandbox"),
	mustRule(`\b(nsenter|unshare|capsh|setcap)\b`, "Namespace or capability manipulation"),
	mustRule(`\b(mount|umount)\b`, "Filesystem mount manipulation"),
	mustRule(`/proc/sys/(kernel|fs|net)/`, "Kernel parameter manipulation"),
	mustRule(`/sys/(kernel|fs|class|devices)/`, "Sysfs manipulation"),

	// ── Resource bombs ──
	mustRule(`:\(\)\s*\{.*\};\s*:`, "Fork bomb"),
	mustRule(`\byes\b.*>\s*/dev`, "Device flooding"),
	mustRule(`\bdd\b.*\bof=/dev/(zero|null)\b.*\bbs=\d+[GgMm]`, "Memory exhaustion via dd"),
	mustRule(`\bfallocate\b.*-l\s*\d+[GgTt]`, "Disk exhaustion"),

	// ── Crypto mining ──
	mustRule(`\b(xmrig|cpuminer|minerd|cgminer|bfgminer|ethminer|nbminer|lolminer|gminer)\b`, "Crypto mining"),
	mustRule(`stratum\+(tcp|ssl)://`, "Crypto mining pool connection"),

	// ── Escape via links ──
	mustRule(`\bln\s+-s\w*\s+/(etc|root|home|proc|sys|dev|var)\b`, "Symlink to a host system directory"),
}

// Dangerous commands run only after explicit user approval in private
// chats; in group chats they collapse to blocked because there is no
// single user who can approve on behalf of the room.
var defaultDangerous = []Rule{
	// ── Destructive file operations ──
	mustRule(`\brm\s+(-\w*[rf]\w*\s+)+`, "Recursive or forced delete"),
	mustRule(`\brm\s+.*--(recursive|force)`, "Recursive or forced delete"),
	mustRule(`\bfind\b.*-delete\b`, "Mass delete via find"),
	mustRule(`\bchmod\s+(-\w+\s+)*[0-7]*77[0-7]?\b`, "World-writable permissions"),
	mustRule(`\bchown\b.*\s+/`, "Ownership change on a system path"),

	// ── Disk and filesystem ──
	mustRule(`\bdd\s+if=`, "Raw disk write"),
	mustRule(`>\s*/dev/sd[a-z]\b`, "Raw disk write"),
	mustRule(`\b(mkfs|fdisk|parted|gdisk|wipefs)\b`, "Partition or filesystem tool"),

	// ── Irreversible VCS and database operations ──
	mustRule(`\bgit\s+push\b.*(--force|-f\b)`, "Force push rewrites remote history"),
	mustRule(`\bgit\s+(reset\s+--hard|clean\s+-\w*[fdx])`, "Discards uncommitted work"),
	mustRule(`\bDROP\s+(TABLE|DATABASE|SCHEMA)\b`, "Destructive SQL statement"),
	mustRule(`\bTRUNCATE\s+TABLE\b`, "Destructive SQL statement"),

	// ── System state ──
	mustRule(`\b(shutdown|reboot|poweroff|halt)\b`, "Host power control"),
	mustRule(`\bkill\s+-9\s+1\b`, "Kills the init process"),
	mustRule(`\b(killall|pkill)\b`, "Mass process kill"),

	// ── Remote code execution ──
	mustRule(`\bcurl\b.*\|\s*(ba|z|da)?sh\b`, "Pipes a downloaded script into a shell"),
	mustRule(`\bwget\b.*-O\s*-\s*\|\s*(ba|z|da)?sh\b`, "Pipes a downloaded script into a shell"),
	mustRule(`\bbase64\s+(-d|--decode)\b.*\|\s*(ba|z|da)?sh\b`, "Decodes and executes an encoded payload"),

	// ── Reverse shells ──
	mustRule(`\b(nc|ncat|netcat)\b.*-[el]\b`, "Reverse or bind shell"),
	mustRule(`\bsocat\b.*\b(exec|tcp)`, "Reverse shell via socat"),
	mustRule(`\bpython[23]?\b.*\bimport\s+(socket|pty)\b`, "Scripted reverse shell"),
	mustRule(`\bmkfifo\b.*\|\s*/bin/sh`, "FIFO-based reverse shell"),

	// ── Cluster mass operations ──
	mustRule(`\bkubectl\s+delete\b.*(--all\b|-A\b)`, "Mass delete of cluster resources"),
	mustRule(`\bdocker\s+(rm|rmi|system\s+prune)\b.*(-f|--force|--all)`, "Mass container or image removal"),
}

// Prompt-injection patterns. Matching is case-insensitive and covers
// both English and Russian because the corpus this list was tuned on
// contains both. One match refuses the message; it never bans the user.
var defaultInjection = []*regexp.Regexp{
	// instruction override
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|your)\s+(instructions?|rules?|guidelines?)`),
	regexp.MustCompile(`(?i)forget\s+(everything|all)\s+(above|before|you\s+know)`),
	regexp.MustCompile(`(?i)забудь\s+(все|всё|предыдущие)`),
	regexp.MustCompile(`(?i)игнорируй\s+(все|всё|предыдущие|инструкции)`),
	// fake role markers
	regexp.MustCompile(`(?i)\[\s*(system|admin|developer|root)\s*\]`),
	regexp.MustCompile(`(?i)<\s*(system|admin)\s*>`),
	regexp.MustCompile(`(?i)^(system|assistant)\s*:`),
	// mode switching
	regexp.MustCompile(`(?i)\b(DAN|jailbreak|developer)\s+mode\b`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(DAN|unrestricted|unfiltered)\b`),
	regexp.MustCompile(`(?i)режим\s+(разработчика|DAN)`),
	// prompt extraction
	regexp.MustCompile(`(?i)(show|print|reveal|repeat|output)\s+(me\s+)?(your|the)\s+(system\s+)?prompt`),
	regexp.MustCompile(`(?i)what\s+(are|were)\s+your\s+(initial\s+)?instructions`),
	regexp.MustCompile(`(?i)(покажи|выведи|повтори)\s+(свой|системный)\s+промпт`),
	// impersonation
	regexp.MustCompile(`(?i)pretend\s+(you\s+are|to\s+be)\s+(the\s+)?(admin|administrator|developer|owner)`),
	regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+(are|were)\s+)?(the\s+)?(admin|root|system)`),
	regexp.MustCompile(`(?i)притворись\s+(админом|администратором|разработчиком)`),
	// tool manipulation
	regexp.MustCompile(`(?i)(register|add|define)\s+(a\s+)?new\s+tool`),
	regexp.MustCompile(`(?i)call\s+the\s+tool\s+with\s+raw`),
}

// Sensitive basenames no file operation may touch, whatever the path.
var defaultSensitiveFiles = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\.env(\..*)?$`),
	regexp.MustCompile(`(?i)^credentials?(\..*)?$`),
	regexp.MustCompile(`(?i)^secrets?(\..*)?$`),
	regexp.MustCompile(`(?i)^id_(rsa|ed25519|ecdsa|dsa)(\.pub)?$`),
	regexp.MustCompile(`(?i)\.pem$`),
	regexp.MustCompile(`(?i)\.key$`),
	regexp.MustCompile(`(?i)^(token|oauth_token|access_token)s?\.(json|txt|yaml|yml)$`),
	regexp.MustCompile(`(?i)^\.(npmrc|pypirc|netrc|pgpass)$`),
	regexp.MustCompile(`(?i)^authorized_keys$`),
	regexp.MustCompile(`(?i)^known_hosts$`),
}

// Dangerous code shapes checked on write and edit. Blocking a direct
// read of .env is useless if the agent can write a script that reads
// it, so the same intent is refused at write time in any language.
var defaultDangerousCode = []Rule{
	mustRule(`(?i)\bos\.environ\b`, "Script reads process environment"),
	mustRule(`(?i)\bprocess\.env\b`, "Script reads process environment"),
	mustRule(`(?i)\bSystem\.getenv\b`, "Script reads process environment"),
	mustRule(`(?i)\bos\.Getenv\b`, "Script reads process environment"),
	mustRule(`(?i)\bENV\[`, "Script reads process environment"),
	mustRule(`(?i)\b(load_dotenv|dotenv\.config|godotenv)\b`, "Script loads an env secrets file"),
	mustRule(`(?i)\bopen\s*\(\s*['"][^'"]*\.env['"]`, "Script opens a secrets file"),
	mustRule(`(?i)/etc/(passwd|shadow)`, "Script reads host account database"),
	mustRule(`(?i)\brequests\.post\s*\(`, "Script posts data to an external host"),
	mustRule(`(?i)\bcurl\b[^\n]*(-d|--data)\b`, "Script posts data to an external host"),
	mustRule(`(?i)\bfetch\s*\([^)]*method\s*:\s*['"]POST`, "Script posts data to an external host"),
	mustRule(`(?i)socket\.(socket|connect)\b[^\n]*`, "Raw socket use in written code"),
	mustRule(`(?i)pty\.spawn\s*\(`, "Reverse shell idiom in written code"),
	mustRule(`(?i)/dev/tcp/`, "Reverse shell idiom in written code"),
}

// Grep patterns that would let the agent use search as a read primitive
// for secrets.
var defaultSecretSearchTerms = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password`),
	regexp.MustCompile(`(?i)passwd`),
	regexp.MustCompile(`(?i)token`),
	regexp.MustCompile(`(?i)api.?key`),
	regexp.MustCompile(`(?i)credential`),
	regexp.MustCompile(`(?i)private.?key`),
	regexp.MustCompile(`(?i)secret`),
}

// Secret-value shapes for output redaction.
var defaultSecrets = []SecretRule{
	// provider key shapes — keep a 4-char prefix so the user can tell which key leaked
	{Pattern: regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`), KeepPrefix: true},
	{Pattern: regexp.MustCompile(`\btvly-[A-Za-z0-9_-]{16,}\b`), KeepPrefix: true},
	{Pattern: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), KeepPrefix: true},
	{Pattern: regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{22,}\b`), KeepPrefix: true},
	{Pattern: regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`), KeepPrefix: true},
	{Pattern: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), KeepPrefix: true},
	// bot-token shape: 8-10 digits, colon, 35 base62 chars
	{Pattern: regexp.MustCompile(`\b\d{8,10}:[A-Za-z0-9_-]{35}\b`), KeepPrefix: true},
	// auth headers
	{Pattern: regexp.MustCompile(`(?i)\b(Bearer|Basic)\s+[A-Za-z0-9+/_.=-]{16,}`), KeepPrefix: true},
	// PEM blocks
	{Pattern: regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)},
	// generic NAME=value
	{Pattern: regexp.MustCompile(`(?i)\b([A-Z0-9_]*(API_?KEY|TOKEN|SECRET|PASSWORD|PASSWD|CREDENTIAL|PRIVATE_?KEY|ACCESS_?KEY)[A-Z0-9_]*)\s*[=:]\s*['"]?[^\s'"]{6,}['"]?`), KeyValue: true},
	// ip:port URLs often carry webhook credentials in this deployment
	{Pattern: regexp.MustCompile(`\b(?:https?://)?(?:\d{1,3}\.){3}\d{1,3}:\d{2,5}\b`), KeepPrefix: true},
}

// URL shapes the fetch tool refuses outright.
var defaultBlockedURLs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^file://`),
	regexp.MustCompile(`(?i)^ftp://`),
	regexp.MustCompile(`169\.254\.169\.254`),
	regexp.MustCompile(`(?i)metadata\.google\.internal`),
	regexp.MustCompile(`(?i)^https?://(localhost|127\.|0\.0\.0\.0|\[::1\])`),
	regexp.MustCompile(`^https?://10\.\d{1,3}\.\d{1,3}\.\d{1,3}`),
	regexp.MustCompile(`^https?://192\.168\.\d{1,3}\.\d{1,3}`),
	regexp.MustCompile(`^https?://172\.(1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}`),
}

// DefaultSet returns the built-in pattern snapshot.
func DefaultSet() *Set {
	return &Set{
		Blocked:        defaultBlocked,
		Dangerous:      defaultDangerous,
		Injection:      defaultInjection,
		SensitiveFiles: defaultSensitiveFiles,
		DangerousCode:  defaultDangerousCode,
		Secrets:        defaultSecrets,
		BlockedURLs:    defaultBlockedURLs,
	}
}

// patternFile is the on-disk override format. Every section is
// optional; a present section extends the defaults rather than
// replacing them, so an operator hot-fixing a bypass only has to add
// the missing pattern.
type patternFile struct {
	Blocked   []patternRule `json:"blocked"`
	Dangerous []patternRule `json:"dangerous"`
	Injection []string      `json:"injection"`
	Sensitive []string      `json:"sensitive_files"`
	URLs      []string      `json:"blocked_urls"`
}

type patternRule struct {
	Pattern string `json:"pattern"`
	Reason  string `json:"reason"`
}

// Library serves pattern snapshots with a cheap mtime check before
// each use, so an operator edit takes effect without a restart.
type Library struct {
	mu      sync.Mutex
	path    string
	mtime   time.Time
	current *Set
	logger  *slog.Logger
}

// NewLibrary creates a library backed by an optional override file.
// An empty path serves the built-in defaults forever.
func NewLibrary(path string) *Library {
	l := &Library{
		path:    path,
		current: DefaultSet(),
		logger:  slog.With("component", "patterns"),
	}
	if path != "" {
		l.reload()
	}
	return l
}

// Current returns the active snapshot, reloading first if the override
// file changed since the last check.
func (l *Library) Current() *Set {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path == "" {
		return l.current
	}
	info, err := os.Stat(l.path)
	if err != nil {
		return l.current // file removed — keep serving the last good snapshot
	}
	if !info.ModTime().After(l.mtime) {
		return l.current
	}
	l.reload()
	return l.current
}

// reload parses the override file and swaps the snapshot. A parse or
// compile error keeps the previous snapshot; a broken operator edit
// must never weaken the active lists. Caller holds l.mu (or is the
// constructor, before the library is shared).
func (l *Library) reload() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("pattern file unreadable, keeping current set", "path", l.path, "error", err)
		}
		return
	}
	var pf patternFile
	if err := json5.Unmarshal(data, &pf); err != nil {
		l.logger.Error("pattern file parse failed, keeping current set", "path", l.path, "error", err)
		return
	}
	set := DefaultSet()
	if err := applyOverrides(set, &pf); err != nil {
		l.logger.Error("pattern compile failed, keeping current set", "path", l.path, "error", err)
		return
	}
	if info, err := os.Stat(l.path); err == nil {
		l.mtime = info.ModTime()
	}
	l.current = set
	l.logger.Info("pattern overrides loaded",
		"blocked", len(pf.Blocked),
		"dangerous", len(pf.Dangerous),
		"injection", len(pf.Injection),
	)
}

func applyOverrides(set *Set, pf *patternFile) error {
	for _, r := range pf.Blocked {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("blocked pattern %q: %w", r.Pattern, err)
		}
		set.Blocked = append(set.Blocked, Rule{Pattern: re, Reason: r.Reason})
	}
	for _, r := range pf.Dangerous {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("dangerous pattern %q: %w", r.Pattern, err)
		}
		set.Dangerous = append(set.Dangerous, Rule{Pattern: re, Reason: r.Reason})
	}
	for _, p := range pf.Injection {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("injection pattern %q: %w", p, err)
		}
		set.Injection = append(set.Injection, re)
	}
	for _, p := range pf.Sensitive {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("sensitive file pattern %q: %w", p, err)
		}
		set.SensitiveFiles = append(set.SensitiveFiles, re)
	}
	for _, p := range pf.URLs {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("blocked url pattern %q: %w", p, err)
		}
		set.BlockedURLs = append(set.BlockedURLs, re)
	}
	return nil
}

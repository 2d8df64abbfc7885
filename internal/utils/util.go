package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

func EscapeMd(s string) string {
	repl := []string{"*", "\\*", "_", "\\_", "`", "\\`", "~", "\\~"}
	r := strings.NewReplacer(repl...)
	return r.Replace(s)
}

func PrettyTime(sec int) string {
	if sec < 0 {
		sec = 0
	}
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// PrettyDuration is PrettyTime for a time.Duration, truncated to whole seconds.
func PrettyDuration(d time.Duration) string {
	return PrettyTime(int(d / time.Second))
}

var reDur = regexp.MustCompile(`(?i)^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// ParseDurationString accepts plain seconds, "1h2m3s" style and "1:02:03" clock style.
func ParseDurationString(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if strings.Contains(s, ":") {
		return parseClock(s)
	}
	m := reDur.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	h := Atoi(m[1])
	min := Atoi(m[2])
	sec := Atoi(m[3])
	return h*3600 + min*60 + sec
}

func parseClock(s string) int {
	total := 0
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

func Atoi(s string) int {
	if s == "" {
		return 0
	}
	v, _ := strconv.Atoi(s)
	return v
}

// IsURL reports whether s looks like an absolute http(s) URL.
func IsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SplitCommand splits message content into the first word and the trimmed remainder.
func SplitCommand(content string) (verb, rest string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ""
	}
	i := strings.IndexFunc(content, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' })
	if i < 0 {
		return content, ""
	}
	return content[:i], strings.TrimSpace(content[i+1:])
}

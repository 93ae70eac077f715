package safety

import "regexp"

type pattern struct {
	re     *regexp.Regexp
	source string
}

type labelledPattern struct {
	re    *regexp.Regexp
	label string
}

func mustPattern(source string) pattern {
	return pattern{re: regexp.MustCompile("(?i)" + source), source: source}
}

func mustLabelled(source, label string) labelledPattern {
	return labelledPattern{re: regexp.MustCompile("(?i)" + source), label: label}
}

// Tier 1: catastrophic, irreversible. Always blocked.
var blockedPatterns = []pattern{
	// rm -rf targeting home, root, or user directories. Handles short
	// flags (-rf), split flags (-r -f), and GNU long flags.
	mustPattern(`\brm\s+(-{1,2}[\w-]+\s+)*\s*(/\s*$|~\s*$|~/\s*$|\$HOME)`),
	mustPattern(`\brm\s+(-{1,2}[\w-]+\s+)*/Users\b`),
	mustPattern(`\brm\s+(-{1,2}[\w-]+\s+)*/home\b`),
	// rm targeting critical home subdirectories
	mustPattern(`\brm\s+(-{1,2}[\w-]+\s+)*\s*~/?(Desktop|Documents|Downloads|Pictures|Music|Movies|Library|Applications)\b`),
	// Filesystem destruction
	mustPattern(`\bmkfs\b`),
	mustPattern(`\bdd\s+if=`),
	mustPattern(`>\s*/dev/sd[a-z]`),
	// Fork bomb variants
	mustPattern(`:\(\)\s*\{`),
	mustPattern(`\bfork\s*bomb\b`),
	// System power
	mustPattern(`\bshutdown\b`),
	mustPattern(`\breboot\b`),
	mustPattern(`\bhalt\b`),
	mustPattern(`\bpoweroff\b`),
	// Privilege escalation
	mustPattern(`\bsudo\b`),
	// Pipe-to-shell (remote code execution via URL)
	mustPattern(`\bcurl\b.*\|\s*\bsh\b`),
	mustPattern(`\bcurl\b.*\|\s*\bbash\b`),
	mustPattern(`\bwget\b.*\|\s*\bsh\b`),
	mustPattern(`\bwget\b.*\|\s*\bbash\b`),
	mustPattern(`\bcat\b.*\|\s*\bbash\b`),
	// Recursive permission destruction
	mustPattern(`\bchmod\s+(-[rR]\s+|--recursive\s+)?(777|a\+rwx)\s+[/~]`),
	// Interpreter inline code execution
	mustPattern(`\bpython3?\s+-[cE]\s`),
	mustPattern(`\bperl\s+-[eE]\s`),
	mustPattern(`\bruby\s+-[eE]\s`),
	mustPattern(`\bnode\s+-[eE]\s`),
	// Destructive find operations
	mustPattern(`\bfind\b.*\s-delete\b`),
	mustPattern(`\bfind\b.*-exec\s+rm\b`),
	// Encoding bypass (base64 decode piped to shell)
	mustPattern(`\bbase64\s.*\|\s*(sh|bash)\b`),
	// Home directory relocation
	mustPattern(`\bmv\s+(-\w+\s+)*~(\s|$)`),
	mustPattern(`\bmv\s+(-\w+\s+)*~/(\s|$)`),
	// Write/append redirects to critical dotfiles
	mustPattern(`>>?\s*~/?\.(ssh|bashrc|bash_profile|zshrc|zprofile|profile|gitconfig|gnupg|npmrc|netrc)`),
	// Symlink attacks on critical dotfiles
	mustPattern(`\bln\s+.*~/?\.(ssh|bashrc|bash_profile|zshrc|zprofile|profile|gitconfig|gnupg)`),
	// printf/echo piped to shell
	mustPattern(`\bprintf\b.*\|\s*(sh|bash)\b`),
	mustPattern(`\becho\b.*\|\s*(sh|bash)\b`),
	// eval with command substitution (obfuscation wrapper)
	mustPattern(`\beval\b\s+"?\$\(`),
	// bash/sh -c with embedded empty quotes (string splitting obfuscation)
	mustPattern(`\b(bash|sh)\s+-c\s+.*('{2}|"{2})`),
}

// Tier 3: allowed but logged for the audit trail.
var loggedPatterns = []labelledPattern{
	mustLabelled(`\brm\s`, "file deletion"),
	mustLabelled(`\bchmod\b|\bchown\b`, "permission change"),
	mustLabelled(`\bgit\s+push\b`, "git push"),
	mustLabelled(`\bsystemctl\b|\blaunchctl\b`, "service management"),
	mustLabelled(`\bcurl\b|\bwget\b`, "network download"),
	mustLabelled(`\bpip3?\s+install\b.*https?://`, "pip install from URL"),
	mustLabelled(`\bfind\b`, "find command"),
	mustLabelled(`\bln\b`, "symlink operation"),
	mustLabelled(`\bmv\b`, "file move"),
	mustLabelled(`\bpython3?\s+-c\b`, "python inline execution"),
	mustLabelled(`\beval\b`, "eval command"),
	mustLabelled(`\bprintf\b.*\|`, "printf pipe"),
}

// Tier 4: generated-script content. Not a security boundary; skipped in
// the container backend where filesystem isolation is stronger.
var codePatterns = []labelledPattern{
	mustLabelled(`['"]~/?\.(ssh|gnupg|aws|kube|docker)/`, "credential directory access"),
	mustLabelled(`['"][^'"]*\.env['"]`, ".env file access"),
	mustLabelled(`['"][^'"]*\.pem['"]`, "PEM key file access"),
	mustLabelled(`['"][^'"]*id_rsa['"]`, "SSH key access"),
	mustLabelled(`\bos\.system\s*\(`, "os.system call"),
	mustLabelled(`subprocess\.\w+\s*\([^)]*shell\s*=\s*True`, "subprocess with shell=True"),
	mustLabelled(`shutil\.rmtree\s*\(\s*['"]?(/|~|Path\.home)`, "recursive delete of home/root"),
	mustLabelled(`socket\.[\w.()]*\bconnect\s*\(`, "outbound socket connection"),
	mustLabelled(`open\s*\(\s*['"]/etc/(passwd|shadow|sudoers)`, "system file read"),
}

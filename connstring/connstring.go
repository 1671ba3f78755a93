// Package connstring parses the mongodb://, mongodb+srv:// connection
// string described in §6: scheme, credentials, seed list, default
// database, and the recognized option table. Grounded on the field
// naming the teacher's retrieved connstring_spec_test.go exercises
// against a ConnString/Parse pair (no connstring.go source survived
// retrieval, only its test) — this module supplies that implementation
// against this driver's own recognized-option table rather than the
// teacher's legacy mongo-specific set (maxConnsPerHost, authMechanismProperties,
// etc. are dropped; tlsInsecure, maxStalenessSeconds, retryWrites/Reads,
// readConcernLevel, and compressors are added per spec.md §6).
package connstring

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	schemeMongoDB    = "mongodb"
	schemeMongoDBSRV = "mongodb+srv"
	srvServicePrefix = "_mongodb._tcp."
)

// ConnString is a fully parsed connection string. Every recognized option
// has a Set companion so "absent" can be distinguished from "present with
// the zero value".
type ConnString struct {
	Original string
	Scheme   string
	Hosts    []string

	Username     string
	Password     string
	PasswordSet  bool
	Database     string

	AppName       string
	ReplicaSet    string
	TLS           bool
	TLSInsecure   bool
	AuthSource    string
	AuthMechanism string

	ReadPreference        string
	ReadPreferenceTagSets []map[string]string

	MaxStaleness    time.Duration
	MaxStalenessSet bool

	W              string
	WTimeout       time.Duration
	WTimeoutSet    bool
	Journal        bool
	JournalSet     bool
	ReadConcernLevel string

	RetryWrites    bool
	RetryWritesSet bool
	RetryReads     bool
	RetryReadsSet  bool

	ServerSelectionTimeout    time.Duration
	ServerSelectionTimeoutSet bool
	HeartbeatInterval         time.Duration
	HeartbeatIntervalSet      bool
	LocalThreshold            time.Duration
	LocalThresholdSet         bool

	MaxPoolSize     uint64
	MaxPoolSizeSet  bool
	MinPoolSize     uint64
	MinPoolSizeSet  bool
	MaxConnIdleTime time.Duration
	MaxConnIdleTimeSet bool

	Compressors []string

	LoadBalanced bool

	UnknownOptions map[string][]string
}

// Parse parses uri into a ConnString, per §6. mongodb+srv:// performs an
// SRV lookup on "_mongodb._tcp.<host>" for the seed list and a TXT lookup
// on <host> for options — only authSource, replicaSet, and loadBalanced
// are honored from a TXT record, per §6.
func Parse(uri string) (*ConnString, error) {
	cs := &ConnString{Original: uri, UnknownOptions: make(map[string][]string)}

	scheme, rest, err := splitScheme(uri)
	if err != nil {
		return nil, err
	}
	cs.Scheme = scheme

	rest, query, hasQuery := cutFirst(rest, "?")

	authority, path := rest, ""
	if i := strings.Index(rest, "/"); i != -1 {
		authority, path = rest[:i], rest[i+1:]
	}

	username, password, passwordSet, hostPart := parseUserInfo(authority)
	cs.Username = username
	cs.Password = password
	cs.PasswordSet = passwordSet

	cs.Database = path

	var txtOptions string
	switch scheme {
	case schemeMongoDB:
		if hostPart == "" {
			return nil, errors.New("connstring: no hosts in mongodb:// URI")
		}
		cs.Hosts = strings.Split(hostPart, ",")
	case schemeMongoDBSRV:
		if strings.Contains(hostPart, ",") {
			return nil, errors.New("connstring: mongodb+srv:// URI must name exactly one host")
		}
		hosts, err := lookupSRV(hostPart)
		if err != nil {
			return nil, errors.Wrap(err, "connstring: SRV lookup")
		}
		cs.Hosts = hosts
		cs.TLS = true // mongodb+srv implies TLS unless overridden by the query string below.
		txtOptions, _ = lookupTXT(hostPart)
	default:
		return nil, fmt.Errorf("connstring: unsupported scheme %q", scheme)
	}

	if txtOptions != "" {
		if err := applyOptions(cs, txtOptions, true); err != nil {
			return nil, err
		}
	}
	if hasQuery {
		if err := applyOptions(cs, query, false); err != nil {
			return nil, err
		}
	}

	return cs, nil
}

func splitScheme(uri string) (scheme, rest string, err error) {
	i := strings.Index(uri, "://")
	if i == -1 {
		return "", "", errors.New("connstring: missing scheme")
	}
	scheme = uri[:i]
	if scheme != schemeMongoDB && scheme != schemeMongoDBSRV {
		return "", "", fmt.Errorf("connstring: unsupported scheme %q", scheme)
	}
	return scheme, uri[i+3:], nil
}

func cutFirst(s, sep string) (before, after string, found bool) {
	i := strings.Index(s, sep)
	if i == -1 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func parseUserInfo(authority string) (username, password string, passwordSet bool, hostPart string) {
	at := strings.LastIndex(authority, "@")
	if at == -1 {
		return "", "", false, authority
	}
	userinfo, host := authority[:at], authority[at+1:]
	if colon := strings.Index(userinfo, ":"); colon != -1 {
		u, _ := url.QueryUnescape(userinfo[:colon])
		p, _ := url.QueryUnescape(userinfo[colon+1:])
		return u, p, true, host
	}
	u, _ := url.QueryUnescape(userinfo)
	return u, "", false, host
}

func lookupSRV(host string) ([]string, error) {
	_, addrs, err := net.LookupSRV("mongodb", "tcp", host)
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		hosts = append(hosts, net.JoinHostPort(strings.TrimSuffix(a.Target, "."), strconv.Itoa(int(a.Port))))
	}
	return hosts, nil
}

func lookupTXT(host string) (string, error) {
	records, err := net.LookupTXT(host)
	if err != nil || len(records) == 0 {
		return "", err
	}
	return strings.Join(records, ""), nil
}

// allowedTXTOptions is the subset of options an SRV deployment's TXT
// record may set, per §6.
var allowedTXTOptions = map[string]bool{
	"authsource":   true,
	"replicaset":   true,
	"loadbalanced": true,
}

func applyOptions(cs *ConnString, raw string, fromTXT bool) error {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return errors.Wrap(err, "connstring: invalid option string")
	}

	for key, vals := range values {
		lower := strings.ToLower(key)
		if fromTXT && !allowedTXTOptions[lower] {
			continue
		}
		val := vals[len(vals)-1]

		switch lower {
		case "replicaset":
			cs.ReplicaSet = val
		case "loadbalanced":
			cs.LoadBalanced = val == "true"
		case "tls", "ssl":
			cs.TLS = val == "true"
		case "tlsinsecure":
			cs.TLSInsecure = val == "true"
		case "authsource":
			cs.AuthSource = val
		case "authmechanism":
			cs.AuthMechanism = val
		case "appname":
			cs.AppName = val
		case "readpreference":
			cs.ReadPreference = val
		case "readpreferencetags":
			cs.ReadPreferenceTagSets = append(cs.ReadPreferenceTagSets, parseTagSet(val))
		case "maxstalenessseconds":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("connstring: invalid maxStalenessSeconds %q", val)
			}
			cs.MaxStaleness = time.Duration(n) * time.Second
			cs.MaxStalenessSet = true
		case "w":
			cs.W = val
		case "wtimeoutms":
			ms, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("connstring: invalid wtimeoutMS %q", val)
			}
			cs.WTimeout = time.Duration(ms) * time.Millisecond
			cs.WTimeoutSet = true
		case "journal":
			cs.Journal = val == "true"
			cs.JournalSet = true
		case "readconcernlevel":
			cs.ReadConcernLevel = val
		case "retrywrites":
			cs.RetryWrites = val == "true"
			cs.RetryWritesSet = true
		case "retryreads":
			cs.RetryReads = val == "true"
			cs.RetryReadsSet = true
		case "serverselectiontimeoutms":
			ms, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("connstring: invalid serverSelectionTimeoutMS %q", val)
			}
			cs.ServerSelectionTimeout = time.Duration(ms) * time.Millisecond
			cs.ServerSelectionTimeoutSet = true
		case "heartbeatfrequencyms":
			ms, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("connstring: invalid heartbeatFrequencyMS %q", val)
			}
			cs.HeartbeatInterval = time.Duration(ms) * time.Millisecond
			cs.HeartbeatIntervalSet = true
		case "localthresholdms":
			ms, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("connstring: invalid localThresholdMS %q", val)
			}
			cs.LocalThreshold = time.Duration(ms) * time.Millisecond
			cs.LocalThresholdSet = true
		case "maxpoolsize":
			n, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return fmt.Errorf("connstring: invalid maxPoolSize %q", val)
			}
			cs.MaxPoolSize = n
			cs.MaxPoolSizeSet = true
		case "minpoolsize":
			n, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return fmt.Errorf("connstring: invalid minPoolSize %q", val)
			}
			cs.MinPoolSize = n
			cs.MinPoolSizeSet = true
		case "maxidletimems":
			ms, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("connstring: invalid maxIdleTimeMS %q", val)
			}
			cs.MaxConnIdleTime = time.Duration(ms) * time.Millisecond
			cs.MaxConnIdleTimeSet = true
		case "compressors":
			cs.Compressors = strings.Split(val, ",")
		default:
			cs.UnknownOptions[lower] = append(cs.UnknownOptions[lower], val)
		}
	}
	return nil
}

func parseTagSet(val string) map[string]string {
	set := make(map[string]string)
	for _, pair := range strings.Split(val, ",") {
		if k, v, ok := cutFirstRune(pair, ':'); ok {
			set[k] = v
		}
	}
	return set
}

func cutFirstRune(s string, sep rune) (before, after string, found bool) {
	i := strings.IndexRune(s, sep)
	if i == -1 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

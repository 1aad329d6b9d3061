package utils

import (
	"errors"
	"net/url"
)

// Parses a string of the form tcp://<host>:<port> and returns the
// host and port. If the port is not specified, it defaults to 8080.
func ParseHttpUrl(urlstr string) (string, error) {
	uri, err := url.Parse(urlstr)
	if err != nil {
		return "", err
	}

	if uri.Port() == "" {
		uri.Host += ":8080"
	}

	switch uri.Scheme {
	case "tcp", "http":
		return uri.Host, nil
	default:
		return "", errors.New("Unsupported protocol: " + uri.Scheme)
	}
}

// Parses a string of the form <scheme>://<host>:<port> and returns the
// host and port as a string, or an error if the string is not a valid URL.
// If the port is not specified, it defaults to 9090.
// The scheme must be "tcp" or "unix".
func ParseGrpcUrl(urlstr string) (string, error) {
	uri, err := url.Parse(urlstr)
	if err != nil {
		return "", err
	}

	switch uri.Scheme {
	case "tcp":
		if uri.Port() == "" {
			uri.Host += ":9090"
		}
		return uri.Host, nil

	case "unix":
		return "unix://" + uri.Path, nil

	default:
		return "", errors.New("Unsupported protocol: " + uri.Scheme)
	}
}

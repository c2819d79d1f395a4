package client

import (
	"fmt"
	"net/url"
)

type Source interface {
	// url to start streaming events from
	Url(cursor int64, dev bool) (*url.URL, error)
	// cache key for cursor storage
	Key() string
}

// ServerSource points at one shuttle instance by hostname.
type ServerSource struct {
	Host string
}

func NewServerSource(host string) ServerSource {
	return ServerSource{Host: host}
}

func (s ServerSource) Key() string {
	return s.Host
}

func (s ServerSource) Url(cursor int64, dev bool) (*url.URL, error) {
	scheme := "wss"
	if dev {
		scheme = "ws"
	}

	u, err := url.Parse(scheme + "://" + s.Host + "/events")
	if err != nil {
		return nil, err
	}

	if cursor != 0 {
		query := url.Values{}
		query.Add("cursor", fmt.Sprintf("%d", cursor))
		u.RawQuery = query.Encode()
	}
	return u, nil
}

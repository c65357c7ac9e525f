package go2tv

import (
	"context"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
	"go2tv.app/simplecast/internal/adapters"
)

// Bundle wires all external go2tv-backed adapters in one place.
type Bundle struct {
	Discovery   adapters.Discovery
	CastFactory adapters.CastFactory
}

func NewBundle() Bundle {
	return Bundle{
		Discovery:   DiscoveryAdapter{},
		CastFactory: CastFactory{},
	}
}

type DiscoveryAdapter struct{}

func (DiscoveryAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	devices.StartChromecastDiscoveryLoop(ctx)
}

func (DiscoveryAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

type CastFactory struct{}

func (CastFactory) NewCastClient(deviceAddr string) (adapters.CastClient, error) {
	client, err := castprotocol.NewCastClient(deviceAddr)
	if err != nil {
		return nil, err
	}

	return &CastClientAdapter{client: client}, nil
}

type CastClientAdapter struct {
	client *castprotocol.CastClient
}

func (c *CastClientAdapter) Connect() error {
	return c.client.Connect()
}

func (c *CastClientAdapter) Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error {
	return c.client.Load(mediaURL, contentType, startTime, duration, subtitleURL, live)
}

func (c *CastClientAdapter) Play() error {
	return c.client.Play()
}

func (c *CastClientAdapter) Pause() error {
	return c.client.Pause()
}

func (c *CastClientAdapter) Seek(seconds float32) error {
	return c.client.Seek(int(seconds))
}

func (c *CastClientAdapter) SetVolume(level float32) error {
	return c.client.SetVolume(level)
}

func (c *CastClientAdapter) Stop() error {
	return c.client.Stop()
}

func (c *CastClientAdapter) GetStatus() (*castprotocol.CastStatus, error) {
	return c.client.GetStatus()
}

func (c *CastClientAdapter) Close(stopMedia bool) error {
	return c.client.Close(stopMedia)
}

var (
	_ adapters.Discovery   = DiscoveryAdapter{}
	_ adapters.CastFactory = CastFactory{}
)

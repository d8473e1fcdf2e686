//go:build test

package main

import (
	"errors"
	"testing"

	"github.com/srg/blesync/internal/central"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ScanCommandSuite struct {
	CommandTestSuite
}

func TestScanCommandSuite(t *testing.T) {
	suite.Run(t, new(ScanCommandSuite))
}

func (s *ScanCommandSuite) TestPrintsSelectedPeripheral() {
	s.ExpectAdapter()
	s.ExpectScan(2)
	s.Transport.On("IsConnected", mock.Anything, s.Peripheral).Return(false, nil).Once()

	stdout, _, err := s.ExecuteCommand("scan", "--service", s.Service.String(), "--scan-interval", "1ms")

	s.Require().NoError(err)
	s.Equal("AA:BB:CC:DD:EE:FF\tsensor\n", stdout)
	s.Equal(1, s.Adapter.Closed())
}

func (s *ScanCommandSuite) TestUnnamedPeripheral() {
	s.Peripheral.LocalName = ""
	s.ExpectAdapter()
	s.ExpectScan(1)
	s.Transport.On("IsConnected", mock.Anything, s.Peripheral).Return(false, nil).Once()

	stdout, _, err := s.ExecuteCommand("scan", "--service", s.Service.String())

	s.Require().NoError(err)
	s.Equal("AA:BB:CC:DD:EE:FF\t(no name)\n", stdout)
}

func (s *ScanCommandSuite) TestNothingFound() {
	s.ExpectAdapter()
	s.Transport.On("StartScan", mock.Anything, s.Adapter, s.Service).Return(nil).Once()
	s.Transport.On("Peripherals", mock.Anything, s.Adapter).Return(nil, nil).Times(2)
	s.Transport.On("StopScan", mock.Anything, s.Adapter).Return(nil).Once()

	_, _, err := s.ExecuteCommand("scan", "--service", s.Service.String(), "--scan-retries", "2", "--scan-interval", "1ms")

	s.ErrorIs(err, central.ErrNoPeripheral)
	s.Equal(1, s.Adapter.Closed())
}

func (s *ScanCommandSuite) TestAdapterFailure() {
	s.Transport.On("Adapters", mock.Anything).Return(nil, errors.New("device busy")).Once()

	_, _, err := s.ExecuteCommand("scan", "--service", s.Service.String())

	s.ErrorIs(err, central.ErrTransport)
	s.ErrorContains(err, "device busy")
}

func (s *ScanCommandSuite) TestMalformedService() {
	_, _, err := s.ExecuteCommand("scan", "--service", "180d")

	s.ErrorIs(err, central.ErrMalformedIdentity)
	s.Equal(0, s.factoryCalls)
}

//go:build test

package testutils

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/device"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

var (
	DefaultServiceUUID        = uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	DefaultCharacteristicUUID = uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
)

// MockTransportSuite provides a fresh MockTransport, recording sink and
// captured logger for every test, plus helpers that script the common
// happy-path transport calls.
//
//	type RunSuite struct {
//	    testutils.MockTransportSuite
//	}
//
//	func (s *RunSuite) TestFindsPeripheral() {
//	    s.ExpectAdapter()
//	    s.ExpectScan(3)
//	    ...
//	}
type MockTransportSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Transport  *MockTransport
	Sink       *RecordingSink
	Adapter    *FakeAdapter
	Peripheral *FakePeripheral
	Char       *FakeCharacteristic

	Service        uuid.UUID
	Characteristic uuid.UUID
}

// SetupTest builds fresh fakes before each test.
func (s *MockTransportSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger

	s.Transport = &MockTransport{}
	s.Sink = &RecordingSink{}
	s.Service = DefaultServiceUUID
	s.Characteristic = DefaultCharacteristicUUID
	s.Adapter = &FakeAdapter{Name: "hci0"}
	s.Peripheral = &FakePeripheral{Addr: "AA:BB:CC:DD:EE:FF", LocalName: "sensor"}
	s.Char = &FakeCharacteristic{ID: s.Characteristic}
}

// TearDownTest verifies every non-optional expectation was met.
func (s *MockTransportSuite) TearDownTest() {
	s.Transport.AssertExpectations(s.T())
}

// ExpectAdapter makes the next Adapters call return the suite adapter.
func (s *MockTransportSuite) ExpectAdapter() *mock.Call {
	return s.Transport.On("Adapters", mock.Anything).Return([]device.Adapter{s.Adapter}, nil).Once()
}

// ExpectScan scripts a scan in which the suite peripheral shows up on the
// given poll (1-based). Earlier polls see nothing.
func (s *MockTransportSuite) ExpectScan(matchOnPoll int) {
	s.Transport.On("StartScan", mock.Anything, s.Adapter, s.Service).Return(nil).Once()
	if matchOnPoll > 1 {
		s.Transport.On("Peripherals", mock.Anything, s.Adapter).Return([]device.Peripheral{}, nil).Times(matchOnPoll - 1)
	}
	s.Transport.On("Peripherals", mock.Anything, s.Adapter).Return([]device.Peripheral{s.Peripheral}, nil).Once()
	s.Transport.On("AdvertisedServices", mock.Anything, s.Peripheral).Return([]uuid.UUID{s.Service}, true, nil).Once()
	s.Transport.On("StopScan", mock.Anything, s.Adapter).Return(nil).Once()
}

// ExpectConnect scripts a connection whose discovery yields chars.
func (s *MockTransportSuite) ExpectConnect(chars ...device.Characteristic) {
	s.Transport.On("Connect", mock.Anything, s.Peripheral).Return(nil).Once()
	s.Transport.On("DiscoverServices", mock.Anything, s.Peripheral).Return(nil).Once()
	s.Transport.On("Characteristics", mock.Anything, s.Peripheral).Return(chars, nil).Once()
}

// ExpectSession scripts a subscription delivering from stream.
func (s *MockTransportSuite) ExpectSession(stream chan device.Notification) {
	s.Transport.On("Notifications", mock.Anything, s.Peripheral).Return(stream, nil).Once()
	s.Transport.On("Subscribe", mock.Anything, s.Peripheral, s.Char).Return(nil).Once()
}

// ExpectRelease scripts the unsubscribe and disconnect issued when a session
// is torn down.
func (s *MockTransportSuite) ExpectRelease() {
	s.Transport.On("Unsubscribe", mock.Anything, s.Peripheral, s.Char).Return(nil).Once()
	s.Transport.On("IsConnected", mock.Anything, s.Peripheral).Return(true, nil).Once()
	s.Transport.On("Disconnect", mock.Anything, s.Peripheral).Return(nil).Once()
}

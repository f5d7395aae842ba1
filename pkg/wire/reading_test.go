package wire_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/alertnav/pkg/wire"
)

func ptr[T any](v T) *T { return &v }

var _ = Describe("Reading", func() {
	It("decodes a message with every field set", func() {
		r, err := wire.Decode([]byte(`{
			"device_id": "truck-7",
			"lat": 39.96, "lon": -82.99,
			"event": "Blocked Road", "group": "north",
			"timestamp": 1700000000,
			"user_email": "ops@example.com"
		}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(r.DeviceID).To(Equal("truck-7"))
		Expect(*r.Lat).To(Equal(39.96))
		Expect(*r.Event).To(Equal("Blocked Road"))
		Expect(*r.UserEmail).To(Equal("ops@example.com"))
	})

	It("accepts missing coordinates and owner", func() {
		r, err := wire.Decode([]byte(`{"device_id":"d1","timestamp":1}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Lat).To(BeNil())
		Expect(r.UserEmail).To(BeNil())
	})

	DescribeTable("rejects invalid messages",
		func(body string) {
			_, err := wire.Decode([]byte(body))
			Expect(err).To(HaveOccurred())
		},
		Entry("malformed json", `{"device_id":`),
		Entry("missing device", `{"timestamp":1}`),
		Entry("missing timestamp", `{"device_id":"d1"}`),
		Entry("latitude out of range", `{"device_id":"d1","timestamp":1,"lat":91}`),
		Entry("longitude out of range", `{"device_id":"d1","timestamp":1,"lon":-181}`),
		Entry("bad owner email", `{"device_id":"d1","timestamp":1,"user_email":"nobody"}`),
	)

	It("refuses to encode an invalid reading", func() {
		_, err := wire.Encode(&wire.Reading{Timestamp: 1})
		Expect(err).To(MatchError(ContainSubstring("invalid reading")))
	})

	It("omits unset optional fields", func() {
		data, err := wire.Encode(&wire.Reading{DeviceID: "d1", Lat: ptr(1.5), Lon: ptr(2.5), Timestamp: 10})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).NotTo(ContainSubstring("user_email"))
		Expect(string(data)).NotTo(ContainSubstring("event"))
	})
})

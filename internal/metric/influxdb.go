package metric

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	lp "github.com/influxdata/line-protocol"
	log "github.com/sirupsen/logrus"
)

type influx struct {
	client influxdb2.InfluxDBClient
	bucket string
	org    string
}

type InfluxdbConfig struct {
	Addr   string
	Token  string
	Bucket string
	Org    string
}

type Fields map[string]interface{}

type Tags map[string]string

func NewInfluxdb(config InfluxdbConfig) (Client, error) {
	client := influxdb2.NewClient(config.Addr, config.Token)

	return &influx{client: client, bucket: config.Bucket, org: config.Org}, nil
}

func (i *influx) Send(points ...*influxdb2.Point) {
	if err := i.client.WriteApiBlocking(i.org, i.bucket).WritePoint(context.Background(), points...); err != nil {
		log.WithError(err).Debug("unable to send metrics")
		for _, point := range points {
			log.WithFields(log.Fields{
				"name":   point.Name(),
				"tags":   tagsMap(point.TagList()),
				"fields": fieldsMap(point.FieldList()),
			}).Debug("metric not sent")
		}
	}
}

func tagsMap(tags []*lp.Tag) (t Tags) {
	t = make(Tags)
	for _, tag := range tags {
		t[tag.Key] = tag.Value
	}
	return t
}

func fieldsMap(fields []*lp.Field) (f Fields) {
	f = make(Fields)
	for _, field := range fields {
		f[field.Key] = field.Value
	}
	return f
}
